package wallet

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/congo-pay/quorum/internal/identity"
	"github.com/congo-pay/quorum/internal/multisig"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create constructs a wallet from an owner list and threshold.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	owners := make([]common.Address, 0, len(req.Owners))
	for _, raw := range req.Owners {
		addr, err := parseAddress(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		owners = append(owners, addr)
	}
	w, err := h.service.Create(c.UserContext(), owners, req.Threshold)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toWalletResponse(Summary{
		ID:        w.ID(),
		Owners:    w.Owners(),
		Threshold: w.Threshold(),
		CreatedAt: w.CreatedAt(),
	}))
}

// Get returns owners, threshold and proposal count.
func (h *Handler) Get(c *fiber.Ctx) error {
	s, err := h.service.Summary(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toWalletResponse(s))
}

// IsOwner reports whether the address in the path owns the wallet.
func (h *Handler) IsOwner(c *fiber.Ctx) error {
	addr, err := parseAddress(c.Params("address"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ok, err := h.service.IsOwner(c.UserContext(), c.Params("walletId"), addr)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"address": addr.Hex(), "is_owner": ok})
}

// Deposit credits the wallet. The sender is the authenticated caller, if any.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	from, _ := caller(c)
	walletID := c.Params("walletId")
	balance, err := h.service.Deposit(c.UserContext(), walletID, from, amount)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"wallet_id": walletID,
		"from":      from.Hex(),
		"amount":    amount,
		"balance":   balance,
	})
}

// Balance returns the pooled balance to an owner.
func (h *Handler) Balance(c *fiber.Ctx) error {
	who, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	walletID := c.Params("walletId")
	balance, err := h.service.Balance(c.UserContext(), walletID, who)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"wallet_id": walletID, "balance": balance})
}

// Propose records a payment proposal from the caller.
func (h *Handler) Propose(c *fiber.Ctx) error {
	who, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req proposeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var to common.Address
	if common.IsHexAddress(strings.TrimSpace(req.To)) {
		to = common.HexToAddress(strings.TrimSpace(req.To))
	} else if strings.TrimSpace(req.To) != "" {
		return fiber.NewError(http.StatusBadRequest, "invalid recipient address")
	}
	p, err := h.service.Propose(c.UserContext(), c.Params("walletId"), who, to, amount, req.Description)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(toProposalResponse(p))
}

// Proposals lists the proposal history, oldest first.
func (h *Handler) Proposals(c *fiber.Ctx) error {
	offset := cast.ToInt(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	limit := cast.ToInt(c.Query("limit"))
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page, total, err := h.service.Proposals(c.UserContext(), c.Params("walletId"), offset, limit)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]proposalResponse, 0, len(page))
	for _, p := range page {
		items = append(items, toProposalResponse(p))
	}
	return c.JSON(proposalPage{Items: items, Offset: offset, Limit: limit, Total: total})
}

// Proposal returns one proposal.
func (h *Handler) Proposal(c *fiber.Ctx) error {
	id, err := cast.ToUint64E(c.Params("proposalId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid proposal id")
	}
	p, err := h.service.Proposal(c.UserContext(), c.Params("walletId"), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toProposalResponse(p))
}

// Decide approves, revokes or executes a proposal for the caller.
func (h *Handler) Decide(c *fiber.Ctx) error {
	action := c.Params("action")
	if !govalidator.IsIn(action, string(ActionApprove), string(ActionRevoke), string(ActionExecute)) {
		return fiber.NewError(http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
	}
	who, ok := caller(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	id, err := cast.ToUint64E(c.Params("proposalId"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid proposal id")
	}
	p, err := h.service.Decide(c.UserContext(), c.Params("walletId"), who, id, Action(action))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(toProposalResponse(p))
}

// Events returns the wallet's audit trail.
func (h *Handler) Events(c *fiber.Ctx) error {
	events, err := h.service.Events(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return writeError(c, err)
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return c.JSON(out)
}

func caller(c *fiber.Ctx) (common.Address, bool) {
	addr, ok := c.Locals(identity.CallerKey).(common.Address)
	return addr, ok
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func wholeAmount(d decimal.Decimal) (int64, error) {
	n := d.IntPart()
	if !d.Equal(decimal.NewFromInt(n)) {
		return 0, fmt.Errorf("amount %s is not a whole number of base units", d.String())
	}
	return n, nil
}

// statusFor maps ledger failures to HTTP status codes.
func statusFor(err error) int {
	switch multisig.KindOf(err) {
	case multisig.KindConfiguration, multisig.KindValidation:
		return http.StatusBadRequest
	case multisig.KindAuthorization:
		return http.StatusForbidden
	case multisig.KindReference:
		return http.StatusNotFound
	case multisig.KindStateConflict:
		return http.StatusConflict
	case multisig.KindResource:
		return http.StatusUnprocessableEntity
	case multisig.KindInteraction:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, multisig.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrEventsUnavailable):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		return err
	}
	code := multisig.CodeOf(err)
	if code == "" {
		code = strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
	return c.Status(status).JSON(errorResponse{Code: code, Message: err.Error()})
}
