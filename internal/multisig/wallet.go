package multisig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

// Payout describes the outward transfer performed when a proposal executes.
type Payout struct {
	WalletID   string
	ProposalID uint64
	To         common.Address
	Amount     int64
}

// Transferer moves funds out of a wallet. Implementations may call back into
// the wallet synchronously and must pass along the context they receive.
type Transferer interface {
	Transfer(ctx context.Context, payout Payout) error
}

// Config carries the collaborators of a wallet. Store, Publisher and Logger
// default to an in-memory store, a no-op publisher and a discarding logger.
type Config struct {
	ID         string
	Store      Store
	Transferer Transferer
	Publisher  Publisher
	Logger     *slog.Logger
}

// Wallet is a shared account whose funds move only when a quorum of owners
// approves a proposal. All methods are safe for concurrent use; mutating
// calls are serialized and each one commits entirely or not at all.
//
// Several Wallet values may front the same stored wallet, for example one per
// API instance. Every mutating call re-reads the stored state when another
// instance committed since the last call, so guards always see the latest
// balance and approvals.
type Wallet struct {
	id        string
	owners    []common.Address
	ownerSet  mapset.Set[common.Address]
	threshold int
	createdAt time.Time

	mu        sync.RWMutex
	version   uint64
	balance   int64
	proposals []*Proposal

	// transferring is set while the transferer runs; calls arriving then are
	// rejected instead of waiting on mu.
	transferring atomic.Bool

	store      Store
	transferer Transferer
	publisher  Publisher
	logger     *slog.Logger
}

// New validates the owner list and threshold and builds an unpersisted wallet.
func New(cfg Config, owners []common.Address, threshold int) (*Wallet, error) {
	if len(owners) == 0 {
		return nil, ErrInvalidOwnerArray
	}
	if threshold <= 0 || threshold > len(owners) {
		return nil, fmt.Errorf("%w: %d of %d owners", ErrInvalidThreshold, threshold, len(owners))
	}

	set := mapset.New[common.Address]()
	for i, owner := range owners {
		if owner == (common.Address{}) {
			return nil, fmt.Errorf("%w: owner %d is the null address", ErrInvalidAddress, i)
		}
		if set.Has(owner) {
			return nil, fmt.Errorf("%w: duplicate owner %s", ErrInvalidAddress, owner.Hex())
		}
		set.Put(owner)
	}

	if cfg.Transferer == nil {
		return nil, errors.New("multisig: transferer is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = nopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Wallet{
		id:         cfg.ID,
		owners:     append([]common.Address(nil), owners...),
		ownerSet:   set,
		threshold:  threshold,
		createdAt:  time.Now().UTC(),
		store:      cfg.Store,
		transferer: cfg.Transferer,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With(slog.String("wallet_id", cfg.ID)),
	}, nil
}

// Create builds a wallet and persists it in cfg.Store.
func Create(ctx context.Context, cfg Config, owners []common.Address, threshold int) (*Wallet, error) {
	w, err := New(cfg, owners, threshold)
	if err != nil {
		return nil, err
	}
	if err := w.store.CreateWallet(ctx, w.state()); err != nil {
		return nil, fmt.Errorf("persist wallet: %w", err)
	}
	return w, nil
}

// Restore rebuilds a wallet from persisted state, re-deriving every cached
// approval count from the approval flags.
func Restore(cfg Config, st State) (*Wallet, error) {
	cfg.ID = st.ID
	w, err := New(cfg, st.Owners, st.Threshold)
	if err != nil {
		return nil, err
	}
	if !st.CreatedAt.IsZero() {
		w.createdAt = st.CreatedAt
	}
	if err := w.adopt(st); err != nil {
		return nil, err
	}
	return w, nil
}

// adopt replaces the mutable state with st. Nothing changes if st is invalid.
func (w *Wallet) adopt(st State) error {
	if st.Balance < 0 {
		return fmt.Errorf("restore wallet %s: negative balance %d", st.ID, st.Balance)
	}
	proposals := make([]*Proposal, 0, len(st.Proposals))
	for i := range st.Proposals {
		p := st.Proposals[i].clone()
		if p.ID != uint64(i) {
			return fmt.Errorf("restore wallet %s: proposal %d stored at position %d", st.ID, p.ID, i)
		}
		rebuilt := newApprovals()
		for owner, ok := range p.approvals.byOwner {
			if !ok {
				continue
			}
			if !w.IsOwner(owner) {
				return fmt.Errorf("restore wallet %s: proposal %d approved by non-owner %s", st.ID, p.ID, owner.Hex())
			}
			rebuilt.set(owner)
		}
		p.approvals = rebuilt
		proposals = append(proposals, &p)
	}
	w.version = st.Version
	w.balance = st.Balance
	w.proposals = proposals
	return nil
}

// ID returns the wallet identifier.
func (w *Wallet) ID() string { return w.id }

// CreatedAt returns the construction time.
func (w *Wallet) CreatedAt() time.Time { return w.createdAt }

// Threshold returns the number of approvals required to execute.
func (w *Wallet) Threshold() int { return w.threshold }

// Owners returns the owners in construction order.
func (w *Wallet) Owners() []common.Address {
	return append([]common.Address(nil), w.owners...)
}

// OwnerAt returns the i-th owner in construction order.
func (w *Wallet) OwnerAt(i int) (common.Address, bool) {
	if i < 0 || i >= len(w.owners) {
		return common.Address{}, false
	}
	return w.owners[i], true
}

// IsOwner reports whether addr is a registered owner. Membership is fixed at
// construction so no lock is taken.
func (w *Wallet) IsOwner(addr common.Address) bool {
	return w.ownerSet.Has(addr)
}

// reentered reports whether a call must be rejected because an outward
// transfer of this wallet is running.
func (w *Wallet) reentered(ctx context.Context) bool {
	return InCall(ctx, w.id) || w.transferring.Load()
}

// authorize is the single gate in front of every restricted operation.
func (w *Wallet) authorize(ctx context.Context, caller common.Address) error {
	if w.reentered(ctx) {
		return ErrReentrantCall
	}
	if !w.IsOwner(caller) {
		return fmt.Errorf("%w: %s", ErrNotOwner, caller.Hex())
	}
	return nil
}

// asOwner runs fn under the exclusive lock once caller passed authorize.
func (w *Wallet) asOwner(ctx context.Context, caller common.Address, fn func() error) error {
	if err := w.authorize(ctx, caller); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return fn()
}

// Deposit credits amount to the wallet. Anyone may deposit; no fee is taken.
// It returns the balance after the deposit.
func (w *Wallet) Deposit(ctx context.Context, from common.Address, amount int64) (int64, error) {
	if w.reentered(ctx) {
		return 0, ErrReentrantCall
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: negative deposit %d", ErrInvalidAmount, amount)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var balance int64
	err := w.apply(ctx, func(c *call) error {
		if amount > math.MaxInt64-w.balance {
			return fmt.Errorf("%w: deposit of %d overflows balance", ErrInvalidAmount, amount)
		}
		w.balance += amount
		c.onRollback(func() { w.balance -= amount })
		c.emit(Event{Kind: EventFundsReceived, Actor: from, Amount: amount})
		balance = w.balance
		return c.tx.PutBalance(ctx, w.balance)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Propose records a new pending payment request and returns its id.
func (w *Wallet) Propose(ctx context.Context, caller, to common.Address, amount int64, description string) (uint64, error) {
	var id uint64
	err := w.asOwner(ctx, caller, func() error {
		switch {
		case to == (common.Address{}):
			return fmt.Errorf("%w: null recipient", ErrInvalidAddress)
		case amount <= 0:
			return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
		case description == "":
			return ErrInvalidDescription
		}

		return w.apply(ctx, func(c *call) error {
			id = uint64(len(w.proposals))
			p := &Proposal{
				ID:          id,
				Proposer:    caller,
				To:          to,
				Amount:      amount,
				Description: description,
				CreatedAt:   time.Now().UTC(),
				approvals:   newApprovals(),
			}
			w.proposals = append(w.proposals, p)
			c.onRollback(func() { w.proposals = w.proposals[:id] })
			c.emit(Event{
				Kind:        EventProposalCreated,
				ProposalID:  id,
				Actor:       caller,
				To:          to,
				Amount:      amount,
				Description: description,
			})
			return c.tx.PutProposal(ctx, *p)
		})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Approve adds caller's approval. Reaching the threshold does not execute
// the proposal; Execute must be called explicitly.
func (w *Wallet) Approve(ctx context.Context, caller common.Address, id uint64) error {
	return w.asOwner(ctx, caller, func() error {
		return w.apply(ctx, func(c *call) error {
			p, err := w.pending(id)
			if err != nil {
				return err
			}
			if p.approvals.has(caller) {
				return fmt.Errorf("%w: proposal %d", ErrAlreadyApproved, id)
			}
			p.approvals.set(caller)
			c.onRollback(func() { p.approvals.unset(caller) })
			c.emit(Event{Kind: EventProposalApproved, ProposalID: id, Actor: caller})
			return c.tx.PutProposal(ctx, *p)
		})
	})
}

// Revoke withdraws caller's approval from a pending proposal.
func (w *Wallet) Revoke(ctx context.Context, caller common.Address, id uint64) error {
	return w.asOwner(ctx, caller, func() error {
		return w.apply(ctx, func(c *call) error {
			p, err := w.pending(id)
			if err != nil {
				return err
			}
			if !p.approvals.has(caller) {
				return fmt.Errorf("%w: proposal %d", ErrNotApproved, id)
			}
			p.approvals.unset(caller)
			c.onRollback(func() { p.approvals.set(caller) })
			c.emit(Event{Kind: EventApprovalRevoked, ProposalID: id, Actor: caller})
			return c.tx.PutProposal(ctx, *p)
		})
	})
}

// Execute pays out a proposal that has reached quorum. The proposal is
// marked executed and the balance debited before the transfer is attempted;
// a failed transfer rolls the whole call back and leaves the proposal
// pending with its approvals intact.
func (w *Wallet) Execute(ctx context.Context, caller common.Address, id uint64) error {
	return w.asOwner(ctx, caller, func() error {
		var (
			paid   bool
			payout Payout
		)
		err := w.apply(ctx, func(c *call) error {
			p, err := w.pending(id)
			if err != nil {
				return err
			}
			if p.approvals.count < w.threshold {
				return fmt.Errorf("%w: %d of %d", ErrInsufficientApproval, p.approvals.count, w.threshold)
			}
			if w.balance < p.Amount {
				return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, w.balance, p.Amount)
			}

			p.Executed = true
			p.ExecutedAt = time.Now().UTC()
			w.balance -= p.Amount
			c.onRollback(func() {
				p.Executed = false
				p.ExecutedAt = time.Time{}
				w.balance += p.Amount
			})
			if err := c.tx.PutProposal(ctx, *p); err != nil {
				return err
			}
			if err := c.tx.PutBalance(ctx, w.balance); err != nil {
				return err
			}

			payout = Payout{WalletID: w.id, ProposalID: id, To: p.To, Amount: p.Amount}
			if err := w.transfer(ctx, payout); err != nil {
				w.logger.Warn("payout rejected",
					slog.Uint64("proposal_id", id),
					slog.String("to", p.To.Hex()),
					slog.Any("error", err),
				)
				return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
			}
			paid = true

			c.emit(Event{Kind: EventProposalExecuted, ProposalID: id, Actor: caller, To: p.To, Amount: p.Amount})
			return nil
		})
		if err != nil {
			if paid {
				w.logger.Error("payout delivered but journal commit failed",
					slog.Uint64("proposal_id", id),
					slog.Any("error", err),
				)
			}
			return err
		}

		w.logger.Info("proposal executed",
			slog.Uint64("proposal_id", id),
			slog.String("to", payout.To.Hex()),
			slog.Int64("amount", payout.Amount),
			slog.Int64("balance", w.balance),
		)
		return nil
	})
}

// transfer hands the payout to the transferer with the call marked so any
// callback into this wallet is rejected.
func (w *Wallet) transfer(ctx context.Context, payout Payout) error {
	w.transferring.Store(true)
	defer w.transferring.Store(false)
	return w.transferer.Transfer(withinCall(ctx, w.id), payout)
}

// Balance returns the pooled balance. Only owners may read it.
func (w *Wallet) Balance(ctx context.Context, caller common.Address) (int64, error) {
	if err := w.authorize(ctx, caller); err != nil {
		return 0, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balance, nil
}

// Proposal returns a copy of the proposal with the given id.
func (w *Wallet) Proposal(ctx context.Context, id uint64) (Proposal, error) {
	if w.reentered(ctx) {
		return Proposal{}, ErrReentrantCall
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if id >= uint64(len(w.proposals)) {
		return Proposal{}, fmt.Errorf("%w: proposal %d", ErrInvalidID, id)
	}
	return w.proposals[id].clone(), nil
}

// Proposals returns copies of up to limit proposals starting at offset, in
// id order.
func (w *Wallet) Proposals(ctx context.Context, offset, limit int) ([]Proposal, error) {
	if w.reentered(ctx) {
		return nil, ErrReentrantCall
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	if offset >= len(w.proposals) || limit <= 0 {
		return []Proposal{}, nil
	}
	if limit > len(w.proposals)-offset {
		limit = len(w.proposals) - offset
	}
	end := offset + limit
	out := make([]Proposal, 0, end-offset)
	for _, p := range w.proposals[offset:end] {
		out = append(out, p.clone())
	}
	return out, nil
}

// ProposalCount returns the number of proposals ever created.
func (w *Wallet) ProposalCount(ctx context.Context) (int, error) {
	if w.reentered(ctx) {
		return 0, ErrReentrantCall
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.proposals), nil
}

// pending returns the live proposal if it exists and is not executed.
func (w *Wallet) pending(id uint64) (*Proposal, error) {
	if id >= uint64(len(w.proposals)) {
		return nil, fmt.Errorf("%w: proposal %d", ErrInvalidID, id)
	}
	p := w.proposals[id]
	if p.Executed {
		return nil, fmt.Errorf("%w: proposal %d", ErrProposalAlreadyExecuted, id)
	}
	return p, nil
}

func (w *Wallet) state() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := State{
		ID:        w.id,
		Version:   w.version,
		Owners:    w.Owners(),
		Threshold: w.threshold,
		Balance:   w.balance,
		CreatedAt: w.createdAt,
		Proposals: make([]Proposal, 0, len(w.proposals)),
	}
	for _, p := range w.proposals {
		st.Proposals = append(st.Proposals, p.clone())
	}
	return st
}

// call collects the journal writes, events and undo steps of one mutating
// wallet call.
type call struct {
	tx     StoreTx
	undo   []func()
	events []Event
}

func (c *call) onRollback(fn func()) {
	c.undo = append(c.undo, fn)
}

func (c *call) emit(e Event) {
	c.events = append(c.events, e)
}

// apply runs fn as one all-or-nothing unit. The store transaction is opened
// first and the cached state refreshed if another writer committed, so fn
// must evaluate its guards itself. If fn, the event journal or the commit
// fails, every registered undo step runs in reverse order and the store
// transaction is rolled back. Callers must hold w.mu.
func (w *Wallet) apply(ctx context.Context, fn func(c *call) error) error {
	tx, err := w.store.Begin(ctx, w.id)
	if err != nil {
		return fmt.Errorf("begin store tx: %w", err)
	}
	if tx.Version() != w.version {
		if err := w.refresh(ctx, tx); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return err
		}
	}

	c := &call{tx: tx}
	err = fn(c)
	if err == nil {
		now := time.Now().UTC()
		for i := range c.events {
			c.events[i].WalletID = w.id
			c.events[i].At = now
			if err = tx.AppendEvent(ctx, c.events[i]); err != nil {
				err = fmt.Errorf("append event: %w", err)
				break
			}
		}
	}
	if err == nil {
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit store tx: %w", err)
		}
	}
	if err != nil {
		for i := len(c.undo) - 1; i >= 0; i-- {
			c.undo[i]()
		}
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	w.version = tx.Version() + 1

	for _, e := range c.events {
		if perr := w.publisher.Publish(ctx, e); perr != nil {
			w.logger.Warn("publish event failed",
				slog.String("kind", string(e.Kind)),
				slog.Uint64("proposal_id", e.ProposalID),
				slog.Any("error", perr),
			)
		}
	}
	return nil
}

// refresh reloads the committed state after another writer moved the stored
// version past the cached one.
func (w *Wallet) refresh(ctx context.Context, tx StoreTx) error {
	st, err := tx.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload wallet state: %w", err)
	}
	st.ID = w.id
	st.Version = tx.Version()
	if err := w.adopt(st); err != nil {
		return err
	}
	w.logger.Debug("wallet state refreshed", slog.Uint64("version", st.Version))
	return nil
}
