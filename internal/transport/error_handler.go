package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"go.uber.org/zap"
)

// StatusFor maps domain sentinel errors onto HTTP status codes.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrMaxRetriesExceeded), errors.Is(err, domain.ErrEndpointIneligible):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if id, ok := c.Locals(correlationIDLocal).(string); ok {
			fields = append(fields, zap.String("correlationId", id))
		}

		message := err.Error()
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
			message = "internal server error"
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}
