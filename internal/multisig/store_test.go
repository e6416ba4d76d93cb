package multisig

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/quorum/internal/infra"
)

// testDatabaseURL points the store suites at a disposable Postgres database.
// Its multisig tables are truncated before every run.
const testDatabaseURL = "QUORUM_TEST_DATABASE_URL"

func openBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func openPostgres(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := infra.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE multisig_events, multisig_approvals, multisig_proposals, multisig_owners, multisig_wallets`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

func storeBackends(t *testing.T) map[string]Store {
	backends := map[string]Store{
		"memory": NewMemoryStore(),
		"badger": NewBadgerStore(openBadger(t)),
	}
	if dsn := os.Getenv(testDatabaseURL); dsn != "" {
		backends["postgres"] = NewPostgresStore(openPostgres(t, dsn))
	}
	return backends
}

func TestStoreJournal(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			st := State{ID: "w-1", Owners: []common.Address{ownerB, ownerA}, Threshold: 2, CreatedAt: created}

			if err := store.CreateWallet(ctx, st); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := store.CreateWallet(ctx, st); !errors.Is(err, ErrWalletExists) {
				t.Fatalf("expected wallet exists, got %v", err)
			}
			if _, err := store.Begin(ctx, "missing"); !errors.Is(err, ErrWalletNotFound) {
				t.Fatalf("expected wallet not found, got %v", err)
			}

			p := Proposal{ID: 0, Proposer: ownerA, To: recipient, Amount: 9, Description: "rent", CreatedAt: created, approvals: newApprovals()}
			p.approvals.set(ownerB)

			tx, err := store.Begin(ctx, "w-1")
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			tx.PutBalance(ctx, 40)
			tx.PutProposal(ctx, p)
			tx.AppendEvent(ctx, Event{Kind: EventProposalCreated, WalletID: "w-1", Actor: ownerA, At: created})
			if err := tx.AppendEvent(ctx, Event{Kind: EventProposalApproved, WalletID: "w-1", Actor: ownerB, At: created}); err != nil {
				t.Fatalf("append event without recipient: %v", err)
			}
			if err := tx.AppendEvent(ctx, Event{Kind: EventFundsReceived, WalletID: "w-1", Actor: outsider, Amount: 40, At: created}); err != nil {
				t.Fatalf("append deposit event: %v", err)
			}
			if err := tx.Commit(ctx); err != nil {
				t.Fatalf("commit: %v", err)
			}

			discarded, err := store.Begin(ctx, "w-1")
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			discarded.PutBalance(ctx, 1)
			discarded.AppendEvent(ctx, Event{Kind: EventFundsReceived, WalletID: "w-1"})
			if err := discarded.Rollback(ctx); err != nil {
				t.Fatalf("rollback: %v", err)
			}

			loaded, err := store.LoadWallet(ctx, "w-1")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Balance != 40 || loaded.Threshold != 2 || loaded.Version != 1 {
				t.Fatalf("unexpected wallet: %+v", loaded)
			}
			if len(loaded.Owners) != 2 || loaded.Owners[0] != ownerB {
				t.Fatalf("owner order not preserved: %v", loaded.Owners)
			}
			if len(loaded.Proposals) != 1 || !loaded.Proposals[0].HasApproved(ownerB) || loaded.Proposals[0].ApprovalCount() != 1 {
				t.Fatalf("unexpected proposals: %+v", loaded.Proposals)
			}

			events := StoredEvents(store, "w-1")
			if len(events) != 3 || events[0].Kind != EventProposalCreated || events[1].Actor != ownerB {
				t.Fatalf("unexpected events: %+v", events)
			}
			if deposit := events[2]; deposit.Kind != EventFundsReceived || deposit.To != (common.Address{}) || deposit.Amount != 40 {
				t.Fatalf("unexpected deposit event: %+v", deposit)
			}

			ids, err := store.ListWallets(ctx)
			if err != nil || len(ids) != 1 || ids[0] != "w-1" {
				t.Fatalf("unexpected wallet list %v (%v)", ids, err)
			}
		})
	}
}

func TestWalletOnBadgerSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := NewBadgerStore(openBadger(t))
	tr := newTestTransferer()

	w, err := Create(ctx, Config{Store: store, Transferer: tr}, []common.Address{ownerA, ownerB, ownerC}, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w.Deposit(ctx, outsider, 10)
	id, _ := w.Propose(ctx, ownerA, recipient, 4, "persisted")
	w.Approve(ctx, ownerA, id)

	st, err := store.LoadWallet(ctx, w.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	restored, err := Restore(Config{Store: store, Transferer: tr}, st)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := restored.Approve(ctx, ownerB, id); err != nil {
		t.Fatalf("approve after restart: %v", err)
	}
	if err := restored.Execute(ctx, ownerC, id); err != nil {
		t.Fatalf("execute after restart: %v", err)
	}
	if balance, _ := restored.Balance(ctx, ownerA); balance != 6 {
		t.Fatalf("expected balance 6, got %d", balance)
	}
	if n := len(StoredEvents(store, w.ID())); n != 5 {
		t.Fatalf("expected 5 journaled events, got %d", n)
	}
}

func TestStoreTxSeesCommittedVersion(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.CreateWallet(ctx, State{ID: "w-v", Owners: []common.Address{ownerA}, Threshold: 1, CreatedAt: time.Now().UTC()}); err != nil {
				t.Fatalf("create: %v", err)
			}

			for want := uint64(0); want < 3; want++ {
				tx, err := store.Begin(ctx, "w-v")
				if err != nil {
					t.Fatalf("begin: %v", err)
				}
				if tx.Version() != want {
					t.Fatalf("expected version %d, got %d", want, tx.Version())
				}
				st, err := tx.Load(ctx)
				if err != nil {
					t.Fatalf("load in tx: %v", err)
				}
				if st.Version != want || st.Balance != int64(want)*10 {
					t.Fatalf("unexpected state in tx: %+v", st)
				}
				tx.PutBalance(ctx, int64(want+1)*10)
				if err := tx.Commit(ctx); err != nil {
					t.Fatalf("commit: %v", err)
				}
			}

			rolledBack, err := store.Begin(ctx, "w-v")
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			rolledBack.PutBalance(ctx, 1)
			rolledBack.Rollback(ctx)

			st, err := store.LoadWallet(ctx, "w-v")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if st.Version != 3 || st.Balance != 30 {
				t.Fatalf("expected version 3 balance 30, got %d/%d", st.Version, st.Balance)
			}
		})
	}
}

func TestWalletsSharingStoreStayConsistent(t *testing.T) {
	for name, store := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := newTestTransferer()
			first, err := Create(ctx, Config{Store: store, Transferer: tr}, []common.Address{ownerA, ownerB, ownerC}, 2)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			st, err := store.LoadWallet(ctx, first.ID())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			second, err := Restore(Config{Store: store, Transferer: tr}, st)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}

			first.Deposit(ctx, outsider, 10)
			balance, err := second.Deposit(ctx, outsider, 5)
			if err != nil {
				t.Fatalf("deposit through second instance: %v", err)
			}
			if balance != 15 {
				t.Fatalf("expected balance 15, got %d", balance)
			}

			id, err := first.Propose(ctx, ownerA, recipient, 12, "shared")
			if err != nil {
				t.Fatalf("propose: %v", err)
			}
			if err := first.Approve(ctx, ownerA, id); err != nil {
				t.Fatalf("approve: %v", err)
			}
			if err := second.Approve(ctx, ownerA, id); !errors.Is(err, ErrAlreadyApproved) {
				t.Fatalf("expected approval made elsewhere to be seen, got %v", err)
			}
			if err := second.Approve(ctx, ownerB, id); err != nil {
				t.Fatalf("approve through second instance: %v", err)
			}
			if err := first.Execute(ctx, ownerC, id); err != nil {
				t.Fatalf("execute with approvals split across instances: %v", err)
			}
			if err := second.Execute(ctx, ownerC, id); !errors.Is(err, ErrProposalAlreadyExecuted) {
				t.Fatalf("expected second execute to be rejected, got %v", err)
			}
			if got := tr.received(recipient); got != 12 {
				t.Fatalf("expected a single payout of 12, got %d", got)
			}

			if _, err := second.Deposit(ctx, outsider, 1); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			persisted, err := store.LoadWallet(ctx, first.ID())
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if persisted.Balance != 4 {
				t.Fatalf("expected persisted balance 4, got %d", persisted.Balance)
			}
			if b, err := first.Deposit(ctx, outsider, 0); err != nil || b != 4 {
				t.Fatalf("expected first instance to pick up balance 4, got %d (%v)", b, err)
			}
		})
	}
}
