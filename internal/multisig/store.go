package multisig

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrWalletNotFound is returned by stores for unknown wallet ids.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWalletExists is returned when a wallet id is persisted twice.
	ErrWalletExists = errors.New("wallet already exists")
)

// State is the persisted form of a wallet. Version counts committed store
// transactions and lets a cached wallet detect writes made through another
// instance sharing the store.
type State struct {
	ID        string
	Version   uint64
	Owners    []common.Address
	Threshold int
	Balance   int64
	Proposals []Proposal
	CreatedAt time.Time
}

// Store journals wallet state. Every mutating wallet call runs inside one
// StoreTx which is committed only if the whole call succeeds.
type Store interface {
	CreateWallet(ctx context.Context, state State) error
	LoadWallet(ctx context.Context, id string) (State, error)
	ListWallets(ctx context.Context) ([]string, error)
	Begin(ctx context.Context, walletID string) (StoreTx, error)
}

// StoreTx buffers the writes of a single wallet call. A transaction either
// holds the wallet exclusively until it ends or fails its Commit with
// ErrConcurrentUpdate when another transaction committed first. Commit
// increments the persisted version.
type StoreTx interface {
	// Version is the persisted version observed by Begin.
	Version() uint64
	// Load reads the committed wallet state inside the transaction.
	Load(ctx context.Context) (State, error)
	PutBalance(ctx context.Context, balance int64) error
	PutProposal(ctx context.Context, p Proposal) error
	AppendEvent(ctx context.Context, event Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EventReader is implemented by stores that can replay a wallet's audit trail.
type EventReader interface {
	Events(ctx context.Context, walletID string) ([]Event, error)
}
