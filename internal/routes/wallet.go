package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/quorum/internal/payout"
	"github.com/congo-pay/quorum/internal/wallet"
)

// WalletMiddleware groups the handlers placed in front of wallet endpoints.
type WalletMiddleware struct {
	Auth         fiber.Handler
	OptionalAuth fiber.Handler
	Idempotency  fiber.Handler
}

func chain(handlers ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// RegisterWalletRoutes wires the multisig wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, mw WalletMiddleware) {
	authed := func(next fiber.Handler) []fiber.Handler { return chain(mw.Auth, mw.Idempotency, next) }

	r.Post("/wallets", authed(h.Create)...)
	r.Get("/wallets/:walletId", h.Get)
	r.Get("/wallets/:walletId/owners/:address", h.IsOwner)
	r.Get("/wallets/:walletId/events", h.Events)
	r.Post("/wallets/:walletId/deposits", chain(mw.OptionalAuth, mw.Idempotency, h.Deposit)...)
	r.Get("/wallets/:walletId/balance", chain(mw.Auth, h.Balance)...)
	r.Post("/wallets/:walletId/proposals", authed(h.Propose)...)
	r.Get("/wallets/:walletId/proposals", h.Proposals)
	r.Get("/wallets/:walletId/proposals/:proposalId", h.Proposal)
	r.Post("/wallets/:walletId/proposals/:proposalId/:action", authed(h.Decide)...)
}

// RegisterPayoutRoutes exposes recipient balances credited by executed proposals.
func RegisterPayoutRoutes(r fiber.Router, h *payout.Handler) {
	r.Get("/accounts/:address", h.Account)
}
