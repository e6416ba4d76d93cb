package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/identity"
)

// Handler exposes auth endpoints for challenge/login/logout.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Challenge issues a nonce for the address in the body.
func (h *Handler) Challenge(c *fiber.Ctx) error {
	var req challengeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	addr, err := ParseAddress(req.Address)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ch, err := h.svc.Challenge(c.UserContext(), addr)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(challengeResponse{
		Address:   ch.Address.Hex(),
		Nonce:     ch.Nonce,
		Message:   ch.Message,
		ExpiresAt: ch.ExpiresAt,
	})
}

type loginRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type loginResponse struct {
	Address     string `json:"address"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Login verifies the signed challenge and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	addr, err := ParseAddress(req.Address)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	pair, err := h.svc.Login(c.UserContext(), addr, req.Signature)
	if err != nil {
		if errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrInvalidSignature) {
			return fiber.NewError(http.StatusUnauthorized, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		Address:     pair.Address.Hex(),
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
	})
}

// Logout invalidates existing tokens of the authenticated caller.
func (h *Handler) Logout(c *fiber.Ctx) error {
	addr, ok := c.Locals(identity.CallerKey).(common.Address)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	if err := h.svc.Logout(c.UserContext(), addr); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}
