package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/domain"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

// OwnerHeader identifies the calling account. Authentication happens upstream.
const OwnerHeader = "X-Owner-ID"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func ownerID(c *fiber.Ctx) (string, error) {
	owner := strings.TrimSpace(c.Get(OwnerHeader))
	if owner == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, OwnerHeader+" header is required")
	}
	c.SetUserContext(observability.WithOwnerID(c.UserContext(), owner))
	return owner, nil
}

func queryLimit(c *fiber.Ctx) (int, error) {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}
	return limit, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}
