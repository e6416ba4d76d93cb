package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/yiplee/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/congo-pay/quorum/internal/multisig"
)

// ErrEventsUnavailable is returned when the configured store cannot replay
// the audit trail.
var ErrEventsUnavailable = errors.New("event history not available for this store")

// Config wires the collaborators shared by every wallet.
type Config struct {
	Store      multisig.Store
	Transferer multisig.Transferer
	Publisher  multisig.Publisher
	Logger     *slog.Logger
}

// Service keeps live wallets by id and persists new ones through the store.
type Service struct {
	cfg     Config
	wallets *cache.Cache[string, *multisig.Wallet]
	sf      singleflight.Group
}

// NewService builds a wallet registry.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("wallet store is required")
	}
	if cfg.Transferer == nil {
		return nil, fmt.Errorf("transferer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		wallets: cache.New[string, *multisig.Wallet](),
	}, nil
}

func (s *Service) walletConfig(id string) multisig.Config {
	return multisig.Config{
		ID:         id,
		Store:      s.cfg.Store,
		Transferer: s.cfg.Transferer,
		Publisher:  s.cfg.Publisher,
		Logger:     s.cfg.Logger,
	}
}

// Load restores every persisted wallet and returns how many were loaded.
func (s *Service) Load(ctx context.Context) (int, error) {
	ids, err := s.cfg.Store.ListWallets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}
	for _, id := range ids {
		if _, err := s.Get(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Create constructs and persists a wallet.
func (s *Service) Create(ctx context.Context, owners []common.Address, threshold int) (*multisig.Wallet, error) {
	w, err := multisig.Create(ctx, s.walletConfig(""), owners, threshold)
	if err != nil {
		return nil, err
	}
	s.wallets.Set(w.ID(), w)
	s.cfg.Logger.Info("wallet created",
		slog.String("wallet_id", w.ID()),
		slog.Int("owners", len(owners)),
		slog.Int("threshold", threshold),
	)
	return w, nil
}

// Get returns the live wallet, restoring it from the store on first use.
func (s *Service) Get(ctx context.Context, id string) (*multisig.Wallet, error) {
	if w, ok := s.wallets.Get(id); ok {
		return w, nil
	}
	v, err, _ := s.sf.Do(id, func() (interface{}, error) {
		if w, ok := s.wallets.Get(id); ok {
			return w, nil
		}
		st, err := s.cfg.Store.LoadWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		w, err := multisig.Restore(s.walletConfig(id), st)
		if err != nil {
			return nil, err
		}
		s.wallets.Set(id, w)
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*multisig.Wallet), nil
}

// Summary describes the wallet's owners, threshold and proposal count.
func (s *Service) Summary(ctx context.Context, id string) (Summary, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	count, err := w.ProposalCount(ctx)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		ID:            w.ID(),
		Owners:        w.Owners(),
		Threshold:     w.Threshold(),
		ProposalCount: count,
		CreatedAt:     w.CreatedAt(),
	}, nil
}

// IsOwner reports whether addr owns the wallet.
func (s *Service) IsOwner(ctx context.Context, id string, addr common.Address) (bool, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return w.IsOwner(addr), nil
}

// Deposit credits amount from the sender and returns the new balance.
func (s *Service) Deposit(ctx context.Context, id string, from common.Address, amount int64) (int64, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return w.Deposit(ctx, from, amount)
}

// Balance returns the wallet balance to an owner.
func (s *Service) Balance(ctx context.Context, id string, caller common.Address) (int64, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return w.Balance(ctx, caller)
}

// Propose records a new proposal and returns it.
func (s *Service) Propose(ctx context.Context, id string, caller, to common.Address, amount int64, description string) (multisig.Proposal, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return multisig.Proposal{}, err
	}
	pid, err := w.Propose(ctx, caller, to, amount, description)
	if err != nil {
		return multisig.Proposal{}, err
	}
	return w.Proposal(ctx, pid)
}

// Proposal returns one proposal of the wallet.
func (s *Service) Proposal(ctx context.Context, id string, proposalID uint64) (multisig.Proposal, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return multisig.Proposal{}, err
	}
	return w.Proposal(ctx, proposalID)
}

// Proposals returns a page of the proposal history and the total count.
func (s *Service) Proposals(ctx context.Context, id string, offset, limit int) ([]multisig.Proposal, int, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	total, err := w.ProposalCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	page, err := w.Proposals(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// Action is an owner decision on a pending proposal.
type Action string

const (
	ActionApprove Action = "approve"
	ActionRevoke  Action = "revoke"
	ActionExecute Action = "execute"
)

// Decide applies action to the proposal on behalf of caller and returns the
// proposal afterwards.
func (s *Service) Decide(ctx context.Context, id string, caller common.Address, proposalID uint64, action Action) (multisig.Proposal, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return multisig.Proposal{}, err
	}
	switch action {
	case ActionApprove:
		err = w.Approve(ctx, caller, proposalID)
	case ActionRevoke:
		err = w.Revoke(ctx, caller, proposalID)
	case ActionExecute:
		err = w.Execute(ctx, caller, proposalID)
	default:
		return multisig.Proposal{}, fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return multisig.Proposal{}, err
	}
	return w.Proposal(ctx, proposalID)
}

// Events replays the wallet's audit trail from the store.
func (s *Service) Events(ctx context.Context, id string) ([]multisig.Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	r, ok := s.cfg.Store.(multisig.EventReader)
	if !ok {
		return nil, ErrEventsUnavailable
	}
	return r.Events(ctx, id)
}
