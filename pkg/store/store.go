// Package store owns all relational persistence: the decision and template
// event logs, the attestation queue tables, and the wire-exchange index.
// SQLite is the default engine; a postgres:// DSN selects Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"      // Postgres driver
	_ "modernc.org/sqlite"     // SQLite driver
)

// Store wraps a single logical database connection. Transactions are never
// interleaved; SQLite connections are capped at one writer.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database named by dsn and applies the schema.
// "postgres://..." selects Postgres; anything else is a SQLite path
// (":memory:" included).
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection (tests use this with sqlmock).
func NewWithDB(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB exposes the underlying connection for components sharing the store.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decision_events (
			decision_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (decision_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			min_approvals INTEGER NOT NULL,
			allowed_modes TEXT NOT NULL,
			require_adapter_capabilities TEXT NOT NULL,
			max_steps INTEGER,
			labels TEXT NOT NULL,
			created_at TEXT NOT NULL,
			created_by_type TEXT NOT NULL,
			created_by_id TEXT NOT NULL,
			digest TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS template_events (
			template_name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			ts TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			digest TEXT NOT NULL,
			PRIMARY KEY (template_name, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS attestation_intents (
			queue_id TEXT PRIMARY KEY,
			intent_digest TEXT NOT NULL UNIQUE,
			intent_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			last_attempt INTEGER NOT NULL DEFAULT 0,
			last_error_code TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attestation_receipts (
			receipt_digest TEXT PRIMARY KEY,
			intent_digest TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			backend TEXT NOT NULL,
			status TEXT NOT NULL,
			receipt_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dcl_exchanges (
			content_digest TEXT PRIMARY KEY,
			request_digest TEXT NOT NULL,
			response_digest TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status ON attestation_intents (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_intent ON attestation_receipts (intent_digest, attempt)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Q rewrites ? placeholders to $n for Postgres. Components layered on the
// store (the attestation queue) use it for their own statements.
func (s *Store) Q(query string) string { return s.q(query) }

// q rewrites ? placeholders to $n for Postgres.
func (s *Store) q(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation recognizes duplicate-key failures across both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "constraint failed: UNIQUE") ||
		strings.Contains(msg, "duplicate key value") // postgres
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
