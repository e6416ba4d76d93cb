package multisig

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errTxClosed = errors.New("store transaction already closed")

type memoryWallet struct {
	// held by an open transaction, like a row lock
	lock   sync.Mutex
	state  State
	events []Event
}

type memoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*memoryWallet
}

// NewMemoryStore creates a concurrency-safe in-memory store useful for tests
// and development.
func NewMemoryStore() Store {
	return &memoryStore{wallets: make(map[string]*memoryWallet)}
}

func (s *memoryStore) CreateWallet(_ context.Context, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[state.ID]; exists {
		return ErrWalletExists
	}
	s.wallets[state.ID] = &memoryWallet{state: cloneState(state)}
	return nil
}

func (s *memoryStore) LoadWallet(_ context.Context, id string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return State{}, ErrWalletNotFound
	}
	return cloneState(w.state), nil
}

func (s *memoryStore) ListWallets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.wallets))
	for id := range s.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) Events(_ context.Context, walletID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return append([]Event(nil), w.events...), nil
}

func (s *memoryStore) Begin(_ context.Context, walletID string) (StoreTx, error) {
	s.mu.RLock()
	w, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrWalletNotFound
	}

	w.lock.Lock()
	s.mu.RLock()
	version := w.state.Version
	s.mu.RUnlock()
	return &memoryTx{store: s, wallet: w, version: version, proposals: make(map[uint64]Proposal)}, nil
}

type memoryTx struct {
	store     *memoryStore
	wallet    *memoryWallet
	version   uint64
	balance   *int64
	proposals map[uint64]Proposal
	order     []uint64
	events    []Event
	closed    bool
}

func (t *memoryTx) Version() uint64 { return t.version }

func (t *memoryTx) Load(_ context.Context) (State, error) {
	if t.closed {
		return State{}, errTxClosed
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return cloneState(t.wallet.state), nil
}

func (t *memoryTx) PutBalance(_ context.Context, balance int64) error {
	if t.closed {
		return errTxClosed
	}
	t.balance = &balance
	return nil
}

func (t *memoryTx) PutProposal(_ context.Context, p Proposal) error {
	if t.closed {
		return errTxClosed
	}
	if _, seen := t.proposals[p.ID]; !seen {
		t.order = append(t.order, p.ID)
	}
	t.proposals[p.ID] = p.clone()
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, event Event) error {
	if t.closed {
		return errTxClosed
	}
	t.events = append(t.events, event)
	return nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.closed {
		return errTxClosed
	}
	defer t.release()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	w := t.wallet
	next := uint64(len(w.state.Proposals))
	for _, id := range t.order {
		switch {
		case id > next:
			return ErrInvalidID
		case id == next:
			next++
		}
	}
	if t.balance != nil {
		w.state.Balance = *t.balance
	}
	for _, id := range t.order {
		p := t.proposals[id]
		switch {
		case id < uint64(len(w.state.Proposals)):
			w.state.Proposals[id] = p
		default:
			w.state.Proposals = append(w.state.Proposals, p)
		}
	}
	w.events = append(w.events, t.events...)
	w.state.Version++
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	t.release()
	return nil
}

func (t *memoryTx) release() {
	if t.closed {
		return
	}
	t.closed = true
	t.wallet.lock.Unlock()
}

func cloneState(s State) State {
	c := s
	c.Owners = append([]common.Address(nil), s.Owners...)
	c.Proposals = make([]Proposal, len(s.Proposals))
	for i := range s.Proposals {
		c.Proposals[i] = s.Proposals[i].clone()
	}
	return c
}
