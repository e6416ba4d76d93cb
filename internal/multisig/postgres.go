package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore journals wallets in PostgreSQL. Each StoreTx holds the
// wallet row lock until it commits or rolls back.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed wallet store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// CreateWallet inserts the wallet row and its ordered owner list.
func (s *PostgresStore) CreateWallet(ctx context.Context, st State) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `INSERT INTO multisig_wallets (id, threshold, balance, version, created_at)
        VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`, st.ID, st.Threshold, st.Balance, int64(st.Version), st.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletExists
	}

	for i, owner := range st.Owners {
		if _, err := tx.Exec(ctx, `INSERT INTO multisig_owners (wallet_id, position, address) VALUES ($1, $2, $3)`,
			st.ID, i, owner.Hex()); err != nil {
			return err
		}
	}
	for _, p := range st.Proposals {
		if err := putProposal(ctx, tx, st.ID, p); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadWallet reads a wallet with its full proposal history.
func (s *PostgresStore) LoadWallet(ctx context.Context, id string) (State, error) {
	return loadState(ctx, s.db, id)
}

func loadState(ctx context.Context, q querier, id string) (State, error) {
	var version int64
	st := State{ID: id}
	err := q.QueryRow(ctx, `SELECT threshold, balance, version, created_at FROM multisig_wallets WHERE id = $1`, id).
		Scan(&st.Threshold, &st.Balance, &version, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return State{}, ErrWalletNotFound
		}
		return State{}, err
	}
	st.Version = uint64(version)
	st.CreatedAt = st.CreatedAt.UTC()

	owners, err := q.Query(ctx, `SELECT address FROM multisig_owners WHERE wallet_id = $1 ORDER BY position`, id)
	if err != nil {
		return State{}, err
	}
	hexes, err := pgx.CollectRows(owners, pgx.RowTo[string])
	if err != nil {
		return State{}, fmt.Errorf("load owners: %w", err)
	}
	for _, h := range hexes {
		st.Owners = append(st.Owners, common.HexToAddress(h))
	}

	rows, err := q.Query(ctx, `SELECT id, proposer, recipient, amount, description, executed, created_at, executed_at
        FROM multisig_proposals WHERE wallet_id = $1 ORDER BY id`, id)
	if err != nil {
		return State{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			p                   Proposal
			proposer, recipient string
			executedAt          *time.Time
		)
		if err := rows.Scan(&p.ID, &proposer, &recipient, &p.Amount, &p.Description, &p.Executed, &p.CreatedAt, &executedAt); err != nil {
			return State{}, err
		}
		p.Proposer = common.HexToAddress(proposer)
		p.To = common.HexToAddress(recipient)
		p.CreatedAt = p.CreatedAt.UTC()
		if executedAt != nil {
			p.ExecutedAt = executedAt.UTC()
		}
		p.approvals = newApprovals()
		st.Proposals = append(st.Proposals, p)
	}
	if err := rows.Err(); err != nil {
		return State{}, err
	}

	approvals, err := q.Query(ctx, `SELECT proposal_id, owner FROM multisig_approvals WHERE wallet_id = $1`, id)
	if err != nil {
		return State{}, err
	}
	defer approvals.Close()
	for approvals.Next() {
		var (
			proposalID uint64
			owner      string
		)
		if err := approvals.Scan(&proposalID, &owner); err != nil {
			return State{}, err
		}
		if proposalID >= uint64(len(st.Proposals)) {
			return State{}, fmt.Errorf("approval references unknown proposal %d", proposalID)
		}
		st.Proposals[proposalID].approvals.set(common.HexToAddress(owner))
	}
	return st, approvals.Err()
}

// ListWallets returns the ids of all persisted wallets.
func (s *PostgresStore) ListWallets(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM multisig_wallets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Events returns the journaled audit trail of a wallet in insertion order.
func (s *PostgresStore) Events(ctx context.Context, walletID string) ([]Event, error) {
	rows, err := s.db.Query(ctx, `SELECT kind, proposal_id, actor, recipient, amount, description, created_at
        FROM multisig_events WHERE wallet_id = $1 ORDER BY seq`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e         Event
			kind      string
			actor     string
			recipient *string
		)
		if err := rows.Scan(&kind, &e.ProposalID, &actor, &recipient, &e.Amount, &e.Description, &e.At); err != nil {
			return nil, err
		}
		e.Kind = EventKind(kind)
		e.WalletID = walletID
		e.Actor = common.HexToAddress(actor)
		if recipient != nil && *recipient != "" {
			e.To = common.HexToAddress(*recipient)
		}
		e.At = e.At.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Begin opens a transaction, locks the wallet row and reads its version
// under the lock.
func (s *PostgresStore) Begin(ctx context.Context, walletID string) (StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	var version int64
	if err := tx.QueryRow(ctx, `SELECT version FROM multisig_wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&version); err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &postgresTx{tx: tx, walletID: walletID, version: uint64(version)}, nil
}

type postgresTx struct {
	tx       pgx.Tx
	walletID string
	version  uint64
}

func (t *postgresTx) Version() uint64 { return t.version }

func (t *postgresTx) Load(ctx context.Context) (State, error) {
	return loadState(ctx, t.tx, t.walletID)
}

func (t *postgresTx) PutBalance(ctx context.Context, balance int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE multisig_wallets SET balance = $2 WHERE id = $1`, t.walletID, balance)
	return err
}

func (t *postgresTx) PutProposal(ctx context.Context, p Proposal) error {
	return putProposal(ctx, t.tx, t.walletID, p)
}

func (t *postgresTx) AppendEvent(ctx context.Context, e Event) error {
	recipient := ""
	if e.To != (common.Address{}) {
		recipient = e.To.Hex()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO multisig_events (wallet_id, kind, proposal_id, actor, recipient, amount, description, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.walletID, string(e.Kind), e.ProposalID, e.Actor.Hex(), recipient, e.Amount, e.Description, e.At.UTC())
	return err
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `UPDATE multisig_wallets SET version = version + 1 WHERE id = $1`, t.walletID); err != nil {
		return err
	}
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func putProposal(ctx context.Context, tx pgx.Tx, walletID string, p Proposal) error {
	var executedAt *time.Time
	if !p.ExecutedAt.IsZero() {
		t := p.ExecutedAt.UTC()
		executedAt = &t
	}
	if _, err := tx.Exec(ctx, `INSERT INTO multisig_proposals
        (wallet_id, id, proposer, recipient, amount, description, executed, created_at, executed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (wallet_id, id) DO UPDATE SET executed = EXCLUDED.executed, executed_at = EXCLUDED.executed_at`,
		walletID, p.ID, p.Proposer.Hex(), p.To.Hex(), p.Amount, p.Description, p.Executed, p.CreatedAt.UTC(), executedAt); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM multisig_approvals WHERE wallet_id = $1 AND proposal_id = $2`, walletID, p.ID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, owner := range p.Approvers() {
		batch.Queue(`INSERT INTO multisig_approvals (wallet_id, proposal_id, owner) VALUES ($1, $2, $3)`, walletID, p.ID, owner.Hex())
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}
