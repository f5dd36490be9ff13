package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/puse45/auth-ms/cmd/account/ids"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func scanRow(r pgx.Row) (Row, error) {
	var (
		row      Row
		platform string
	)
	err := r.Scan(
		&row.ID,
		&row.AccountID,
		&row.RefreshTokenHash,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
		&platform,
		&row.RevocationReason,
	)
	row.Platform = Platform(platform)
	return row, err
}

func getByRefreshHashForUpdateTx(ctx context.Context, tx pgx.Tx, table, refreshHash string) (Row, error) {
	row, err := scanRow(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+table+`
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, refreshHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func createTx(ctx context.Context, db execer, table string, now time.Time, in NewSession) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", err
	}

	var ip net.IP
	if in.Device.IP != nil {
		ip = in.Device.IP
	}

	_, err = db.Exec(ctx, `
		INSERT INTO `+table+` (
			id, account_id, refresh_token_hash,
			created_at, last_used_at, expires_at,
			user_agent, ip, platform
		) VALUES (
			$1, $2, $3,
			$4, $4, $5,
			$6, $7, $8
		)
	`, id, in.AccountID, in.RefreshHash, now, in.ExpiresAt,
		nullIfEmpty(in.Device.UserAgent), ip, string(platformOrUnknown(in.Device.Platform)))
	if err != nil {
		return "", err
	}
	return id, nil
}

func markRotatedTx(ctx context.Context, tx pgx.Tx, table string, now time.Time, oldID, newID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE `+table+`
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = $4
		WHERE id = $1
	`, oldID, now, newID, ReasonRotation)
	return err
}

func revokeAllTx(ctx context.Context, db execer, table string, now time.Time, accountID, reason string) error {
	_, err := db.Exec(ctx, `
		UPDATE `+table+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE account_id = $1
	`, accountID, now, reason)
	return err
}
