package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds a liveness endpoint that also checks Postgres and Redis.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "ok"
		redisStatus := "ok"
		brokerStatus := "ok"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		switch {
		case d.DB == nil:
			dbStatus = "memory"
		default:
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		switch {
		case d.Cache == nil:
			redisStatus = "disabled"
		default:
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		switch {
		case d.Broker == nil:
			brokerStatus = "disabled"
		case d.Broker.IsClosed():
			brokerStatus = "closed"
		}

		status := http.StatusOK
		for _, s := range []string{dbStatus, redisStatus, brokerStatus} {
			if s != "ok" && s != "memory" && s != "disabled" {
				status = http.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus, "amqp": brokerStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
