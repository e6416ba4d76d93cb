package multisig

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names an audit record emitted by the wallet.
type EventKind string

const (
	EventFundsReceived    EventKind = "funds_received"
	EventProposalCreated  EventKind = "proposal_created"
	EventProposalApproved EventKind = "proposal_approved"
	EventApprovalRevoked  EventKind = "approval_revoked"
	EventProposalExecuted EventKind = "proposal_executed"
)

// Event is an entry of the wallet's append-only audit trail. Fields that do
// not apply to a kind are left zero.
type Event struct {
	Kind        EventKind      `json:"kind"`
	WalletID    string         `json:"wallet_id"`
	ProposalID  uint64         `json:"proposal_id"`
	Actor       common.Address `json:"actor"`
	To          common.Address `json:"to,omitempty"`
	Amount      int64          `json:"amount,omitempty"`
	Description string         `json:"description,omitempty"`
	At          time.Time      `json:"at"`
}

// Publisher delivers committed events to external auditors.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
