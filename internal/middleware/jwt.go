package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/auth"
	"github.com/congo-pay/quorum/internal/identity"
)

func bearerToken(c *fiber.Ctx) (string, bool) {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authz[len("Bearer "):]), true
}

// JWTAuth returns a middleware that validates access tokens and stores the
// caller address under identity.CallerKey.
func JWTAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		addr, err := svc.Authenticate(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		c.Locals(identity.CallerKey, addr)
		return c.Next()
	}
}

// OptionalJWTAuth authenticates the caller when a bearer token is present and
// lets anonymous requests through.
func OptionalJWTAuth(svc *auth.Service) fiber.Handler {
	required := JWTAuth(svc)
	return func(c *fiber.Ctx) error {
		if _, ok := bearerToken(c); !ok {
			return c.Next()
		}
		return required(c)
	}
}
