package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/vinaykumarvk/PS-WMS-sub003/internal/observability"
)

const readinessTimeout = 2 * time.Second

// HealthCheck is one dependency probed by /readyz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func PostgresCheck(sqlDB *sql.DB) HealthCheck {
	return HealthCheck{Name: "postgres", Check: sqlDB.PingContext}
}

func RedisCheck(rdb *redis.Client) HealthCheck {
	return HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}}
}

func RegisterHealthRoutes(app fiber.Router, checks ...HealthCheck) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(checks...))
}

// RegisterMetricsRoute exposes the Prometheus registry.
func RegisterMetricsRoute(app fiber.Router, metrics *observability.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(checks ...HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		results := fiber.Map{}
		ready := true
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				results[check.Name] = "down"
				ready = false
				continue
			}
			results[check.Name] = "ok"
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	}
}
