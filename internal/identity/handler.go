package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

// CallerKey is the fiber local holding the authenticated address.
const CallerKey = "caller"

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type principalResponse struct {
	Address      string    `json:"address"`
	TokenVersion int       `json:"token_version"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login"`
}

// Me returns the authenticated principal.
func (h *Handler) Me(c *fiber.Ctx) error {
	addr, ok := c.Locals(CallerKey).(common.Address)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	p, err := h.service.Get(c.UserContext(), addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(principalResponse{
		Address:      p.Address.Hex(),
		TokenVersion: p.TokenVersion,
		CreatedAt:    p.CreatedAt,
		LastLogin:    p.LastLogin,
	})
}
