package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

var errBadgerClosed = errors.New("badger is closed")

// RegisterHealthRoutes adds a readiness endpoint covering every configured backend.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		report := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				healthy = false
				return
			}
			checks[name] = "ok"
		}
		if d.DB != nil {
			report("postgres", d.DB.Ping(ctx))
		}
		if d.Cache != nil {
			report("redis", d.Cache.Ping(ctx).Err())
		}
		if d.Badger != nil {
			var err error
			if d.Badger.IsClosed() {
				err = errBadgerClosed
			}
			report("badger", err)
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    checks,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
