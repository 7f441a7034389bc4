package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"threescale-authorizer/internal/infra/logging"
)

type RateLimitConfig struct {
	RateInterval      time.Duration
	EnableUserLimiter bool
	UserLimit         int
}

func callerKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// UserRateLimit caps requests per caller, identified by IP and User-Agent, over
// a sliding window. It is a no-op unless enabled with a positive limit.
func UserRateLimit(cfg RateLimitConfig, store fiber.Storage) fiber.Handler {
	if !cfg.EnableUserLimiter || cfg.UserLimit <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return limiter.New(limiter.Config{
		Max:               cfg.UserLimit,
		Expiration:        cfg.RateInterval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      callerKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "caller", callerKey(c), "path", c.Path())
			return errorJSON(c, fiber.StatusTooManyRequests, "Too many requests")
		},
	})
}
