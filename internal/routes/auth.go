package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/auth"
	"github.com/congo-pay/quorum/internal/identity"
)

// RegisterAuthRoutes wires sign-in by signed challenge and the caller profile.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, me *identity.Handler, rateLimiter, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/challenge", rateLimiter, h.Challenge)
	} else {
		group.Post("/challenge", h.Challenge)
	}
	group.Post("/login", h.Login)
	group.Post("/logout", jwtmw, h.Logout)
	r.Get("/me", jwtmw, me.Me)
}
