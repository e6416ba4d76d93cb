package identity

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned for addresses that never signed in.
var ErrNotFound = errors.New("principal not found")

// Repository persists principals.
type Repository interface {
	Touch(ctx context.Context, addr common.Address, at time.Time) (Principal, error)
	FindByAddress(ctx context.Context, addr common.Address) (Principal, error)
	UpdateTokenVersion(ctx context.Context, addr common.Address, version int) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Touch creates the principal on first sign-in and records the login time.
func (r *PostgresRepository) Touch(ctx context.Context, addr common.Address, at time.Time) (Principal, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO principals (address, token_version, created_at, last_login)
        VALUES ($1, 0, $2, $2)
        ON CONFLICT (address) DO UPDATE SET last_login = EXCLUDED.last_login
        RETURNING token_version, created_at, last_login`, addr.Hex(), at.UTC())
	p := Principal{Address: addr}
	if err := row.Scan(&p.TokenVersion, &p.CreatedAt, &p.LastLogin); err != nil {
		return Principal{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastLogin = p.LastLogin.UTC()
	return p, nil
}

// FindByAddress fetches a principal.
func (r *PostgresRepository) FindByAddress(ctx context.Context, addr common.Address) (Principal, error) {
	row := r.db.QueryRow(ctx, `SELECT token_version, created_at, last_login FROM principals WHERE address = $1`, addr.Hex())
	p := Principal{Address: addr}
	if err := row.Scan(&p.TokenVersion, &p.CreatedAt, &p.LastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.LastLogin = p.LastLogin.UTC()
	return p, nil
}

// UpdateTokenVersion stores a new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, addr common.Address, version int) error {
	cmd, err := r.db.Exec(ctx, `UPDATE principals SET token_version = $1 WHERE address = $2`, version, addr.Hex())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
