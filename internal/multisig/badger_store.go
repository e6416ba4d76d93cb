package multisig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

var (
	walletPrefix   = []byte("w:")
	proposalPrefix = []byte("p:")
	eventPrefix    = []byte("e:")
)

type walletRecord struct {
	ID        string           `json:"id"`
	Owners    []common.Address `json:"owners"`
	Threshold int              `json:"threshold"`
	Balance   int64            `json:"balance"`
	Version   uint64           `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	Events    uint64           `json:"events"`
}

type proposalRecord struct {
	ID          uint64           `json:"id"`
	Proposer    common.Address   `json:"proposer"`
	To          common.Address   `json:"to"`
	Amount      int64            `json:"amount"`
	Description string           `json:"description"`
	Executed    bool             `json:"executed"`
	CreatedAt   time.Time        `json:"created_at"`
	ExecutedAt  time.Time        `json:"executed_at"`
	Approvers   []common.Address `json:"approvers"`
}

func toProposalRecord(p Proposal) proposalRecord {
	return proposalRecord{
		ID:          p.ID,
		Proposer:    p.Proposer,
		To:          p.To,
		Amount:      p.Amount,
		Description: p.Description,
		Executed:    p.Executed,
		CreatedAt:   p.CreatedAt,
		ExecutedAt:  p.ExecutedAt,
		Approvers:   p.Approvers(),
	}
}

func (r proposalRecord) proposal() Proposal {
	p := Proposal{
		ID:          r.ID,
		Proposer:    r.Proposer,
		To:          r.To,
		Amount:      r.Amount,
		Description: r.Description,
		Executed:    r.Executed,
		CreatedAt:   r.CreatedAt,
		ExecutedAt:  r.ExecutedAt,
		approvals:   newApprovals(),
	}
	for _, owner := range r.Approvers {
		p.approvals.set(owner)
	}
	return p
}

func walletKey(id string) []byte {
	return append(append([]byte{}, walletPrefix...), id...)
}

func proposalKeyPrefix(walletID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", proposalPrefix, walletID))
}

func proposalKey(walletID string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", proposalPrefix, walletID, id))
}

func eventKeyPrefix(walletID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", eventPrefix, walletID))
}

func eventKey(walletID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", eventPrefix, walletID, seq))
}

// BadgerStore journals wallets in an embedded Badger database for
// single-node deployments.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

var _ Store = (*BadgerStore)(nil)

// CreateWallet stores the wallet record and any proposals it carries.
func (s *BadgerStore) CreateWallet(_ context.Context, st State) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(walletKey(st.ID)); err == nil {
			return ErrWalletExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		rec := walletRecord{
			ID:        st.ID,
			Owners:    st.Owners,
			Threshold: st.Threshold,
			Balance:   st.Balance,
			Version:   st.Version,
			CreatedAt: st.CreatedAt,
		}
		if err := putJSON(txn, walletKey(st.ID), rec); err != nil {
			return err
		}
		for _, p := range st.Proposals {
			if err := putJSON(txn, proposalKey(st.ID, p.ID), toProposalRecord(p)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadWallet reads a wallet with its proposals in id order.
func (s *BadgerStore) LoadWallet(_ context.Context, id string) (State, error) {
	var st State
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		st, err = loadBadgerState(txn, id)
		return err
	})
	return st, err
}

func loadBadgerState(txn *badger.Txn, id string) (State, error) {
	rec, err := getWallet(txn, id)
	if err != nil {
		return State{}, err
	}
	st := State{
		ID:        rec.ID,
		Version:   rec.Version,
		Owners:    rec.Owners,
		Threshold: rec.Threshold,
		Balance:   rec.Balance,
		CreatedAt: rec.CreatedAt,
	}

	prefix := proposalKeyPrefix(id)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var pr proposalRecord
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &pr)
		}); err != nil {
			return State{}, err
		}
		st.Proposals = append(st.Proposals, pr.proposal())
	}
	return st, nil
}

// ListWallets returns the ids of all stored wallets.
func (s *BadgerStore) ListWallets(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(walletPrefix); it.ValidForPrefix(walletPrefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(walletPrefix):]))
		}
		return nil
	})
	return ids, err
}

// Events returns the journaled audit trail of a wallet.
func (s *BadgerStore) Events(_ context.Context, walletID string) ([]Event, error) {
	var events []Event
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := eventKeyPrefix(walletID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

// Begin opens a read-write Badger transaction for the wallet. Badger
// detects conflicts optimistically: the wallet record read here makes Commit
// fail if another transaction rewrote it in the meantime.
func (s *BadgerStore) Begin(_ context.Context, walletID string) (StoreTx, error) {
	txn := s.db.NewTransaction(true)
	rec, err := getWallet(txn, walletID)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	return &badgerTx{txn: txn, wallet: rec, version: rec.Version}, nil
}

type badgerTx struct {
	txn     *badger.Txn
	wallet  walletRecord
	version uint64
}

func (t *badgerTx) Version() uint64 { return t.version }

func (t *badgerTx) Load(_ context.Context) (State, error) {
	return loadBadgerState(t.txn, t.wallet.ID)
}

func (t *badgerTx) PutBalance(_ context.Context, balance int64) error {
	t.wallet.Balance = balance
	return putJSON(t.txn, walletKey(t.wallet.ID), t.wallet)
}

func (t *badgerTx) PutProposal(_ context.Context, p Proposal) error {
	return putJSON(t.txn, proposalKey(t.wallet.ID, p.ID), toProposalRecord(p))
}

func (t *badgerTx) AppendEvent(_ context.Context, e Event) error {
	if err := putJSON(t.txn, eventKey(t.wallet.ID, t.wallet.Events), e); err != nil {
		return err
	}
	t.wallet.Events++
	return putJSON(t.txn, walletKey(t.wallet.ID), t.wallet)
}

func (t *badgerTx) Commit(_ context.Context) error {
	t.wallet.Version = t.version + 1
	if err := putJSON(t.txn, walletKey(t.wallet.ID), t.wallet); err != nil {
		return err
	}
	if err := t.txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %w", ErrConcurrentUpdate, err)
		}
		return err
	}
	return nil
}

func (t *badgerTx) Rollback(_ context.Context) error {
	t.txn.Discard()
	return nil
}

func getWallet(txn *badger.Txn, id string) (walletRecord, error) {
	item, err := txn.Get(walletKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return walletRecord{}, ErrWalletNotFound
		}
		return walletRecord{}, err
	}
	var rec walletRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.SetEntry(badger.NewEntry(key, b))
}
