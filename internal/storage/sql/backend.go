// Package sql is a storage backend on PostgreSQL. The schema is applied by
// the migrate command.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkcm/pkce-session-manager/internal/serviceerr"
)

type Backend struct {
	db *pgxpool.Pool
}

func NewBackend(db *pgxpool.Pool) *Backend {
	return &Backend{db: db}
}

func (b *Backend) Get(ctx context.Context, key string) (value []byte, _ error) {
	if err := b.db.QueryRow(ctx, `SELECT value
FROM session_records
WHERE key = $1
	AND (expires_at IS NULL OR expires_at > now());`,
		key,
	).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serviceerr.ErrNotFound
		}

		return nil, fmt.Errorf("selecting from session_records: %w", err)
	}

	return value, nil
}

// Take deletes the row and returns its value in one statement. Of concurrent
// deletes of one row only one returns it. An expired row is removed too but
// reported as absent.
func (b *Backend) Take(ctx context.Context, key string) ([]byte, error) {
	var (
		value   []byte
		expired bool
	)

	if err := b.db.QueryRow(ctx, `DELETE FROM session_records
WHERE key = $1
RETURNING value, (expires_at IS NOT NULL AND expires_at <= now());`,
		key,
	).Scan(&value, &expired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, serviceerr.ErrNotFound
		}

		return nil, fmt.Errorf("deleting from session_records: %w", err)
	}

	if expired {
		return nil, serviceerr.ErrNotFound
	}

	return value, nil
}

// Set computes the expiry on the database clock, the same clock Get and
// PurgeExpired compare against.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	tx, err := b.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO session_records (key, value, expires_at, updated_at)
	VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN now() + $3::bigint * interval '1 millisecond' END, now())
	ON CONFLICT (key)
	DO UPDATE SET (value, expires_at, updated_at) = (EXCLUDED.value, EXCLUDED.expires_at, EXCLUDED.updated_at);`,
		key, value, ttl.Milliseconds(),
	); err != nil {
		return fmt.Errorf("inserting into session_records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if _, err := b.db.Exec(ctx, `DELETE FROM session_records WHERE key = ANY($1);`, keys); err != nil {
		return fmt.Errorf("deleting from session_records: %w", err)
	}

	return nil
}

// PurgeExpired deletes expired rows and returns how many were deleted.
func (b *Backend) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := b.db.Exec(ctx, `DELETE FROM session_records WHERE expires_at <= now();`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired session_records: %w", err)
	}

	return int(tag.RowsAffected()), nil
}
