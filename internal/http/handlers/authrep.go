package handlers

import (
	"github.com/gofiber/fiber/v2"

	"threescale-authorizer/internal/dispatch"
	"threescale-authorizer/internal/infra/logging"
)

// AuthRep accepts a reporting message pushed over HTTP, either bare or wrapped
// in an SNS notification, and queues it on the reporting stream.
func AuthRep(pub dispatch.Publisher) fiber.Handler {
	return func(c *fiber.Ctx) error {
		msg, err := dispatch.DecodeEnvelope(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := pub.Publish(c.UserContext(), msg); err != nil {
			logging.Error("Queueing pushed reporting message failed", "token", logging.Redact(msg.Token), "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "reporting channel unavailable")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
	}
}
