package payout

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/ledger"
)

// Handler exposes HTTP endpoints for recipient accounts.
type Handler struct {
	service *Service
}

// NewHandler constructs a payout handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Account returns how much an address has received from executed proposals.
func (h *Handler) Account(c *fiber.Ctx) error {
	raw := c.Params("address")
	if !common.IsHexAddress(raw) {
		return fiber.NewError(http.StatusBadRequest, "invalid address")
	}
	addr := common.HexToAddress(raw)

	balance, err := h.service.Balance(c.UserContext(), addr)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(AccountResponse{
		Address:     addr.Hex(),
		AccountCode: ledger.AccountCode(addr.Hex()),
		Balance:     balance,
	})
}
