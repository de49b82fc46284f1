package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

const correlationIDLocal = "correlationId"

// CorrelationID takes the caller's X-Request-ID (or mints one), echoes it back, and puts it
// on the request's user context for the services to log with.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(correlationIDLocal, id)
		c.Set(fiber.HeaderXRequestID, id)
		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}
