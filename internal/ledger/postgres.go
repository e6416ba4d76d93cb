package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO ledger_accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (int64, error) {
	var accountID uuid.UUID
	if err := l.db.QueryRow(ctx, `SELECT id FROM ledger_accounts WHERE code = $1`, code).Scan(&accountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	var balance int64
	err := l.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`, accountID).
		Scan(&balance)
	return balance, err
}

// Credit posts amount from the payout clearing account to code. A repeated
// clientTxID returns the original transaction with ErrDuplicateTransaction.
func (l *PostgresLedger) Credit(ctx context.Context, code, clientTxID string, amount int64) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CreditResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	accountID, err := accountIDForCode(ctx, tx, code)
	if err != nil {
		return CreditResult{}, err
	}
	clearingID, err := accountIDForCode(ctx, tx, PayoutClearingAccountCode)
	if err != nil {
		return CreditResult{}, err
	}

	const existingQuery = `SELECT id FROM ledger_transactions WHERE client_tx_id = $1 AND kind = $2`
	var existingTxID uuid.UUID
	if err := tx.QueryRow(ctx, existingQuery, clientTxID, KindPayout).Scan(&existingTxID); err == nil {
		balance, balErr := balanceForAccount(ctx, tx, accountID)
		if balErr != nil {
			return CreditResult{}, balErr
		}
		return CreditResult{TransactionID: existingTxID.String(), Balance: balance}, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return CreditResult{}, err
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`,
		txID, clientTxID, KindPayout, StatusCompleted); err != nil {
		return CreditResult{}, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, accountID, amount); err != nil {
		return CreditResult{}, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ledger_entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4)`, uuid.New(), txID, clearingID, -amount); err != nil {
		return CreditResult{}, err
	}

	balance, err := balanceForAccount(ctx, tx, accountID)
	if err != nil {
		return CreditResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return CreditResult{}, err
	}

	return CreditResult{TransactionID: txID.String(), Balance: balance}, nil
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	const query = `SELECT id FROM ledger_accounts WHERE code = $1 FOR UPDATE`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return uuid.Nil, err
	}
	return id, nil
}

func balanceForAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE account_id = $1`
	var balance int64
	if err := tx.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}
