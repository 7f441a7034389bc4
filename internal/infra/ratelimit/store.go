// Package ratelimit provides the storage behind the Fiber limiter middleware.
package ratelimit

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	"threescale-authorizer/internal/infra/logging"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewStore returns Redis-backed limiter storage so that every authorizer replica
// shares the same windows. It falls back to process memory when Redis is not
// configured or cannot be reached at startup.
func NewStore(cfg RedisConfig) fiber.Storage {
	var store fiber.Storage = memoryStorage.New()

	if strings.TrimSpace(cfg.Addr) == "" {
		logging.Warn("Rate limiter redis addr empty, using memory")
		return store
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Rate limiter redis store init failed, falling back to memory", "addr", cfg.Addr, "error", r)
			}
		}()
		store = redisStorage.New(redisStorage.Config{
			Addrs:    []string{cfg.Addr},
			Password: cfg.Password,
			Database: cfg.DB,
		})
		logging.Info("Using redis for rate limiting", "addr", cfg.Addr, "db", cfg.DB)
	}()

	return store
}
