package server

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"threescale-authorizer/internal/config"
	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/http/handlers"
	"threescale-authorizer/internal/http/middleware"
	"threescale-authorizer/internal/infra/logging"
	"threescale-authorizer/internal/infra/ratelimit"
	"threescale-authorizer/internal/metrics"
)

type Deps struct {
	Config    config.Config
	Engine    handlers.Decider
	Publisher dispatch.Publisher
	OpsKeys   middleware.KeyStore
	Store     fiber.Storage
	// Ready reports whether downstream dependencies answer. Nil means always ready.
	Ready func(ctx context.Context) error
}

func NewApp(deps Deps) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Envoy and load balancers terminate the downstream connection, so the
		// caller address for rate limiting comes from the proxy header.
		ProxyHeader: fiber.HeaderXForwardedFor,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			if code >= fiber.StatusInternalServerError {
				logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
			}

			return c.Status(code).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    code,
					"message": msg,
				},
			})
		},
	})

	middleware.Register(app)

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(c *fiber.Ctx) bool {
			if deps.Ready == nil {
				return true
			}
			if err := deps.Ready(c.UserContext()); err != nil {
				logging.Warn("Readiness check failed", "error", err)
				return false
			}
			return true
		},
	}))

	app.Get("/ops/metrics", adaptor.HTTPHandler(metrics.Handler()))

	limit := middleware.UserRateLimit(middleware.RateLimitConfig{
		RateInterval:      cfg.RateLimiter.Interval,
		EnableUserLimiter: cfg.RateLimiter.EnableUserLimiter,
		UserLimit:         cfg.RateLimiter.UserLimit,
	}, deps.Store)

	app.Post("/authorize", limit, handlers.Authorize(deps.Engine))

	// Envoy ext_authz with http_service uses a path_prefix and appends the
	// original path, so both /ext-authz and /ext-authz/* are served.
	extAuthz := handlers.ExtAuthz(deps.Engine)
	app.All("/ext-authz", limit, extAuthz)
	app.All("/ext-authz/*", limit, extAuthz)

	ops := app.Group("/ops", middleware.OpsAPIKeyAuth(deps.OpsKeys))
	ops.Post("/authrep", handlers.AuthRep(deps.Publisher))
	ops.Get("/monitor", monitor.New(monitor.Config{Title: "threescale-authorizer"}))

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// NewRateLimitStore builds the limiter storage on the cache Redis instance.
func NewRateLimitStore(cfg config.Config) fiber.Storage {
	return ratelimit.NewStore(ratelimit.RedisConfig{
		Addr:     cfg.Cache.Addr(),
		Password: cfg.Cache.Password,
		DB:       cfg.RateLimiter.RedisDB,
	})
}
