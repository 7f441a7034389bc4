package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	"threescale-authorizer/internal/domain"
	"threescale-authorizer/internal/infra/logging"
)

// errKeyStoreNotReady is returned while the ops keys have not been loaded yet.
var errKeyStoreNotReady = errors.New("ops key store not ready")

type KeyStore interface {
	Ready() bool
	Validate(key string) bool
}

// OpsAPIKeyAuth requires a valid X-API-Key on every request it guards.
func OpsAPIKeyAuth(keys KeyStore) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: "ops_key",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			key = strings.TrimSpace(key)
			if !keys.Ready() {
				logging.Warn("Ops auth reject", "reason", "key_store_not_ready", "method", c.Method(), "path", c.Path())
				return false, errKeyStoreNotReady
			}
			if !keys.Validate(key) {
				logging.Warn("Ops auth reject", "reason", "invalid_key", "key", logging.Redact(key), "method", c.Method(), "path", c.Path())
				return false, domain.ErrInvalidOpsKey
			}
			logging.Debug("Ops auth allow", "key", logging.Redact(key), "method", c.Method(), "path", c.Path())
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, errKeyStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			logging.Warn("Ops auth error", "status", status, "message", err.Error(), "method", c.Method(), "path", c.Path())
			return errorJSON(c, status, err.Error())
		},
	})
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": message,
		},
	})
}
