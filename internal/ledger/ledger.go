package ledger

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound occurs when a posting references an account that was
	// never created with EnsureAccount.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount is returned for non-positive postings.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

const (
	// KindPayout tags credits produced by executed wallet proposals.
	KindPayout = "payout"
	// StatusCompleted represents a settled posting.
	StatusCompleted = "completed"
	// PayoutClearingAccountCode is the contra account every payout is drawn from.
	PayoutClearingAccountCode = "clearing:payout"
)

// CreditResult captures the outcome of a credit posting.
type CreditResult struct {
	TransactionID string
	Balance       int64
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Credit(ctx context.Context, code, clientTxID string, amount int64) (CreditResult, error)
}

// AccountCode returns the ledger account code for an external address.
func AccountCode(hexAddress string) string {
	return "addr:" + hexAddress
}
