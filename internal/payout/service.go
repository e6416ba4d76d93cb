package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/quorum/internal/ledger"
	"github.com/congo-pay/quorum/internal/multisig"
)

// Service delivers executed proposals to their recipients through the ledger.
// It implements multisig.Transferer.
type Service struct {
	ledger ledger.Ledger
	logger *slog.Logger

	mu        sync.RWMutex
	receivers map[common.Address]Receiver
}

var _ multisig.Transferer = (*Service)(nil)

// NewService prepares a payout service ensuring the clearing account exists.
func NewService(ctx context.Context, ledgerBackend ledger.Ledger, logger *slog.Logger) (*Service, error) {
	if ledgerBackend == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := ledgerBackend.EnsureAccount(ctx, ledger.PayoutClearingAccountCode); err != nil {
		return nil, err
	}
	return &Service{
		ledger:    ledgerBackend,
		logger:    logger,
		receivers: make(map[common.Address]Receiver),
	}, nil
}

// Register attaches receiver code to addr, replacing any previous receiver.
func (s *Service) Register(addr common.Address, r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[addr] = r
}

// Unregister detaches the receiver of addr.
func (s *Service) Unregister(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receivers, addr)
}

func (s *Service) receiver(addr common.Address) (Receiver, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receivers[addr]
	return r, ok
}

// ClientTxID returns the ledger idempotency key of a payout.
func ClientTxID(p multisig.Payout) string {
	return fmt.Sprintf("payout:%s:%d", p.WalletID, p.ProposalID)
}

// Transfer runs the recipient's receiver, if any, and credits its account.
// A payout that was already credited is reported as delivered.
func (s *Service) Transfer(ctx context.Context, p multisig.Payout) error {
	if p.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	code := ledger.AccountCode(p.To.Hex())
	if err := s.ledger.EnsureAccount(ctx, code); err != nil {
		return fmt.Errorf("ensure recipient account: %w", err)
	}

	if r, ok := s.receiver(p.To); ok {
		if err := r.Receive(ctx, p); err != nil {
			return err
		}
	}

	res, err := s.ledger.Credit(ctx, code, ClientTxID(p), p.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			s.logger.Info("payout already credited",
				slog.String("wallet_id", p.WalletID),
				slog.Uint64("proposal_id", p.ProposalID),
				slog.String("transaction_id", res.TransactionID),
			)
			return nil
		}
		return fmt.Errorf("credit recipient: %w", err)
	}

	s.logger.Info("payout credited",
		slog.String("wallet_id", p.WalletID),
		slog.Uint64("proposal_id", p.ProposalID),
		slog.String("to", p.To.Hex()),
		slog.Int64("amount", p.Amount),
		slog.String("transaction_id", res.TransactionID),
	)
	return nil
}

// Balance returns the total an address has received. Unknown addresses have
// received nothing.
func (s *Service) Balance(ctx context.Context, addr common.Address) (int64, error) {
	balance, err := s.ledger.Balance(ctx, ledger.AccountCode(addr.Hex()))
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	return balance, err
}
