package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/quorum/internal/multisig"
)

// ErrRejected is returned by receivers that refuse incoming funds.
var ErrRejected = errors.New("recipient rejected funds")

// Receiver is the code attached to a contract-like recipient. It runs before
// the recipient is credited; returning an error refuses the payout. The
// context is the one handed to the transfer and must be used for any call
// back into the paying wallet.
type Receiver interface {
	Receive(ctx context.Context, payout multisig.Payout) error
}

// ReceiverFunc adapts a plain function to Receiver.
type ReceiverFunc func(ctx context.Context, payout multisig.Payout) error

// Receive calls f.
func (f ReceiverFunc) Receive(ctx context.Context, payout multisig.Payout) error {
	return f(ctx, payout)
}

// RejectingReceiver models a recipient with no payable path.
type RejectingReceiver struct {
	Reason string
}

// Receive always refuses the funds.
func (r RejectingReceiver) Receive(_ context.Context, payout multisig.Payout) error {
	reason := r.Reason
	if reason == "" {
		reason = "no payable path"
	}
	return fmt.Errorf("%w: %s (%s)", ErrRejected, payout.To.Hex(), reason)
}
