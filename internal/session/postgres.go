package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists session values in the session_values table.
type PostgresStore struct {
	pool rowQuerier
}

// NewPostgresStore creates a store on top of a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("session: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec rowQuerier) *PostgresStore {
	if exec == nil {
		panic("session: exec required")
	}
	return &PostgresStore{pool: exec}
}

func (s *PostgresStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	query := `SELECT value FROM session_values WHERE session_id = $1 AND key = $2`
	var value string
	if err := s.pool.QueryRow(ctx, query, sessionID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, unavailable("postgres get", err)
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, sessionID, key, value string) (string, bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return "", false, err
	}
	query := `
		WITH prev AS (
			SELECT value FROM session_values
			WHERE session_id = $1 AND key = $2
			FOR UPDATE
		), up AS (
			INSERT INTO session_values (session_id, key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (session_id, key) DO UPDATE
				SET value = EXCLUDED.value, updated_at = now()
			RETURNING 1
		)
		SELECT COALESCE((SELECT value FROM prev), ''), EXISTS (SELECT 1 FROM prev)
		FROM up
	`
	var (
		prev    string
		existed bool
	)
	if err := s.pool.QueryRow(ctx, query, sessionID, key, value).Scan(&prev, &existed); err != nil {
		return "", false, unavailable("postgres set", err)
	}
	return prev, existed, nil
}

func (s *PostgresStore) CompareAndSet(ctx context.Context, sessionID, key string, expected *string, value string) (bool, error) {
	if err := validateKey(sessionID, key); err != nil {
		return false, err
	}
	if expected == nil {
		query := `
			INSERT INTO session_values (session_id, key, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT DO NOTHING
		`
		ct, err := s.pool.Exec(ctx, query, sessionID, key, value)
		if err != nil {
			return false, unavailable("postgres compare and set", err)
		}
		return ct.RowsAffected() > 0, nil
	}

	query := `
		UPDATE session_values
		SET value = $4, updated_at = now()
		WHERE session_id = $1 AND key = $2 AND value = $3
	`
	ct, err := s.pool.Exec(ctx, query, sessionID, key, *expected, value)
	if err != nil {
		return false, unavailable("postgres compare and set", err)
	}
	return ct.RowsAffected() > 0, nil
}
