// Package store persists successful rule results across sessions.
//
// The store is an optional cache behind the engine: rows are keyed exactly
// like session cache entries (content hash of rule ID plus canonical input
// tuple), so a key fully determines its value and writes are idempotent.
// Failures are never persisted; they stay session-scoped.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arbiterhq/arbiter/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (results table keyed by invocation hash)
const currentSchemaVersion = 1

// Store is a SQLite-backed result cache. It implements engine.ResultStore.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored value for a cache key, if present.
func (s *Store) Get(ctx context.Context, key string) (value.Value, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM results WHERE key = ?`, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read result %s: %w", key, err)
	}

	v, err := value.Unmarshal([]byte(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode result %s: %w", key, err)
	}
	return v, true, nil
}

// Put records a successful result. The key determines the value, so a
// duplicate write is a no-op (ON CONFLICT DO NOTHING).
func (s *Store) Put(ctx context.Context, key, ruleID string, v value.Value) error {
	canonical, err := value.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (key, rule_id, value)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, ruleID, string(canonical))
	if err != nil {
		return fmt.Errorf("write result %s: %w", key, err)
	}
	return nil
}

// Count returns the number of stored results. Diagnostics helper.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return n, nil
}

// CountByRule returns the number of stored results for one rule.
// Diagnostics helper.
func (s *Store) CountByRule(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM results WHERE rule_id = ?`, ruleID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results for rule %s: %w", ruleID, err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
