package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puse45/auth-ms/cmd/account"
)

// PostgresStore implements Store over the sessions table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "authms").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !account.ValidSchema(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "authms"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

const sessionColumns = `id, account_id, refresh_token_hash,
	created_at, last_used_at, expires_at, revoked_at,
	replaced_by_session_id, platform, revocation_reason`

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, in NewSession) (string, error) {
	return createTx(ctx, s.pool, s.table(), now, in)
}

func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	row, err := scanRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE id = $1
	`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, refreshHash string, next NewSession) (Row, string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Row{}, "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := s.table()

	// Lock the session row by refresh hash to make rotation safe.
	row, err := getByRefreshHashForUpdateTx(ctx, tx, table, refreshHash)
	if err != nil {
		return Row{}, "", err
	}

	if !row.ExpiresAt.After(now) {
		return Row{}, "", ErrSessionExpired
	}

	// A rotated refresh token presented again.
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		if err := revokeAllTx(ctx, tx, table, now, row.AccountID, ReasonReuseDetected); err != nil {
			return Row{}, "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return Row{}, "", err
		}
		return Row{}, "", ErrRefreshReuseDetected
	}

	if row.RevokedAt != nil {
		return Row{}, "", ErrSessionRevoked
	}

	next.AccountID = row.AccountID
	newID, err := createTx(ctx, tx, table, now, next)
	if err != nil {
		return Row{}, "", err
	}
	if err := markRotatedTx(ctx, tx, table, now, row.ID, newID); err != nil {
		return Row{}, "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return Row{}, "", err
	}
	return row, newID, nil
}

func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, accountID string, reason string) error {
	return revokeAllTx(ctx, s.pool, s.table(), now, accountID, reason)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
