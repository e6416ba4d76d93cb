package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/quorum/internal/multisig"
)

// LoggerNotifier writes wallet events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Publish writes the event to the structured logger.
func (n *LoggerNotifier) Publish(_ context.Context, e multisig.Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("wallet event",
		slog.String("kind", string(e.Kind)),
		slog.String("wallet_id", e.WalletID),
		slog.Uint64("proposal_id", e.ProposalID),
		slog.String("actor", e.Actor.Hex()),
		slog.Int64("amount", e.Amount),
	)
	return nil
}

// Fanout delivers every event to each publisher in turn and joins the errors.
type Fanout []multisig.Publisher

// Publish forwards e to all publishers.
func (f Fanout) Publish(ctx context.Context, e multisig.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
