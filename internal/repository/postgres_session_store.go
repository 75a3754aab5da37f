package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const sessionEntriesSchema = `CREATE TABLE IF NOT EXISTS session_entries (
    scope      TEXT NOT NULL,
    key        TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scope, key)
)`

type sessionEntry struct {
	Scope     string    `db:"scope"`
	Key       string    `db:"key"`
	Value     string    `db:"value"`
	UpdatedAt time.Time `db:"updated_at"`
}

// PostgresSessionStore persists session entries in a single table partitioned by scope.
type PostgresSessionStore struct {
	db    *sqlx.DB
	scope string
}

// NewPostgresSessionStore constructs the store for the given scope.
func NewPostgresSessionStore(db *sqlx.DB, scope string) *PostgresSessionStore {
	return &PostgresSessionStore{db: db, scope: scope}
}

// EnsureSchema creates the backing table when missing.
func (s *PostgresSessionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sessionEntriesSchema); err != nil {
		return fmt.Errorf("create session_entries: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (s *PostgresSessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM session_entries WHERE scope = $1 AND key = $2`
	var value string
	if err := s.db.GetContext(ctx, &value, query, s.scope, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get session entry %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value under key.
func (s *PostgresSessionStore) Set(ctx context.Context, key, value string) error {
	const query = `INSERT INTO session_entries (scope, key, value, updated_at)
VALUES (:scope, :key, :value, :updated_at)
ON CONFLICT (scope, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	entry := sessionEntry{Scope: s.scope, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("set session entry %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *PostgresSessionStore) Remove(ctx context.Context, key string) error {
	const query = `DELETE FROM session_entries WHERE scope = $1 AND key = $2`
	if _, err := s.db.ExecContext(ctx, query, s.scope, key); err != nil {
		return fmt.Errorf("remove session entry %s: %w", key, err)
	}
	return nil
}

// Clear deletes every entry in the scope.
func (s *PostgresSessionStore) Clear(ctx context.Context) error {
	const query = `DELETE FROM session_entries WHERE scope = $1`
	if _, err := s.db.ExecContext(ctx, query, s.scope); err != nil {
		return fmt.Errorf("clear session scope %s: %w", s.scope, err)
	}
	return nil
}

// Close releases the database handle.
func (s *PostgresSessionStore) Close() error {
	return s.db.Close()
}
