package middleware

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/identity"
)

// Audit logs one structured record per request, including the authenticated
// caller address when there is one.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if caller, ok := c.Locals(identity.CallerKey).(common.Address); ok {
			attrs = append(attrs, slog.String("caller", caller.Hex()))
		}

		switch {
		case err != nil && status >= fiber.StatusInternalServerError:
			logger.Error("request failed", append(attrs, slog.Any("error", err))...)
		case err != nil:
			logger.Warn("request rejected", append(attrs, slog.Any("error", err))...)
		default:
			logger.Info("request completed", attrs...)
		}
		return err
	}
}
