// Package app wires configuration into the HTTP authorizer and the reporting worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"threescale-authorizer/internal/authorizer"
	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/http/server"
	"threescale-authorizer/internal/infra/logging"
	"threescale-authorizer/internal/opskeys"
	"threescale-authorizer/internal/reporter"
	"threescale-authorizer/internal/threescale"
	"threescale-authorizer/internal/tokens"
)

// NewRedis connects to the cache instance. The stream and the token entries share it.
func NewRedis(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr(),
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
}

func newAuthority(cfg config.Config) *threescale.Client {
	return threescale.NewClient(threescale.Config{
		Host:         cfg.Authority.Host,
		ProviderKey:  cfg.Authority.ProviderKey,
		ServiceToken: cfg.Authority.ServiceToken,
		ServiceID:    cfg.Authority.ServiceID,
		Timeout:      cfg.Authority.Timeout,
	})
}

func newCache(cfg config.Config, rdb redis.Cmdable) *tokens.RedisCache {
	return tokens.NewRedisCache(rdb,
		tokens.WithPrefix(cfg.Cache.KeyPrefix),
		tokens.WithTTL(cfg.Cache.TTL),
		tokens.WithOpTimeout(cfg.Cache.OpTimeout),
	)
}

// SetupApp builds the authorizer HTTP app. Background work, such as ops key
// reloading, stops when ctx is done.
func SetupApp(ctx context.Context, cfg config.Config, rdb *redis.Client) (*fiber.App, error) {
	publisher := dispatch.NewStreamPublisher(rdb, cfg.Dispatch.Stream, cfg.Dispatch.MaxLen, cfg.Dispatch.PublishTimeout)

	engine, err := authorizer.NewEngine(
		cfg.Authority.AuthType,
		cfg.Authority.ServiceID,
		newCache(cfg, rdb),
		newAuthority(cfg),
		publisher,
	)
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}

	keys := opskeys.NewStore()
	var source opskeys.Source
	if cfg.Ops.KeySet != "" {
		source = opskeys.NewRedisSource(rdb, cfg.Ops.KeySet)
	}
	reloader := opskeys.NewReloader(cfg.Ops.APIKeys, source, keys, cfg.Ops.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		logging.Error("Initial ops key load failed", "error", err)
	} else {
		logging.Info("Ops key store ready", "keys", keys.Len())
	}
	reloader.Start(ctx)

	logging.Info("Authorizer configured",
		"mode", engine.Mode(),
		"service_id", cfg.Authority.ServiceID,
		"cache", cfg.Cache.Addr(),
		"stream", cfg.Dispatch.Stream,
	)

	return server.NewApp(server.Deps{
		Config:    cfg,
		Engine:    engine,
		Publisher: publisher,
		OpsKeys:   keys,
		Store:     server.NewRateLimitStore(cfg),
		Ready: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}), nil
}

// SetupWorker builds the stream consumer that runs the async reporter.
func SetupWorker(cfg config.Config, rdb *redis.Client) (*dispatch.Consumer, error) {
	rep, err := reporter.New(cfg.Authority.AuthType, cfg.Authority.ServiceID, newCache(cfg, rdb), newAuthority(cfg))
	if err != nil {
		return nil, fmt.Errorf("reporter: %w", err)
	}

	return dispatch.NewConsumer(rdb, dispatch.ConsumerConfig{
		Stream:    cfg.Dispatch.Stream,
		Group:     cfg.Dispatch.Group,
		Workers:   cfg.Reporter.Workers,
		BatchSize: cfg.Reporter.BatchSize,
		Block:     cfg.Reporter.Block,
		ClaimIdle: cfg.Reporter.ClaimIdle,
	}, rep.Handler()), nil
}

// DrainTimeout bounds how long the worker waits for the batch in flight at
// shutdown. Each worker may take a full timeout on both the authorize and the
// report call for every message it holds.
func DrainTimeout(cfg config.Config) time.Duration {
	workers := int64(cfg.Reporter.Workers)
	if workers <= 0 {
		workers = 1
	}
	batch := cfg.Reporter.BatchSize
	if batch <= 0 {
		batch = 16
	}
	timeout := cfg.Authority.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rounds := (batch + workers - 1) / workers
	return time.Duration(rounds)*2*timeout + 5*time.Second
}
