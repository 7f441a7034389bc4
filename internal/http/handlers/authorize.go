package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"threescale-authorizer/internal/authorizer"
)

// Decider is the decision engine as seen by the HTTP layer.
type Decider interface {
	Authorize(ctx context.Context, token, resource string) authorizer.Outcome
}

// TokenEvent is the request API Gateway sends to a TOKEN authorizer.
type TokenEvent struct {
	Type               string `json:"type"`
	AuthorizationToken string `json:"authorizationToken"`
	MethodArn          string `json:"methodArn"`
}

// Authorize answers an API Gateway TOKEN authorizer event with a policy document.
// Only a body that cannot be parsed is rejected; every other request gets a policy.
func Authorize(engine Decider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var ev TokenEvent
		if err := c.BodyParser(&ev); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid authorizer event")
		}

		out := engine.Authorize(c.UserContext(), ev.AuthorizationToken, ev.MethodArn)
		return c.JSON(out.Response())
	}
}

// bearerToken extracts the caller token from Authorization: Bearer or X-API-Key.
func bearerToken(c *fiber.Ctx) string {
	if h := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	return strings.TrimSpace(c.Get("X-API-Key"))
}

// ExtAuthz serves Envoy's ext_authz HTTP check. Envoy appends the original path
// to the configured prefix, which becomes the resource of the decision.
func ExtAuthz(engine Decider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resource := strings.TrimPrefix(c.Path(), "/ext-authz")
		if resource == "" {
			resource = "/"
		}
		resource = c.Method() + " " + resource

		out := engine.Authorize(c.UserContext(), bearerToken(c), resource)
		c.Set("X-Auth-Effect", string(out.Effect))
		if !out.Allowed() {
			return fiber.NewError(fiber.StatusForbidden, "Forbidden")
		}
		return c.SendStatus(fiber.StatusOK)
	}
}
