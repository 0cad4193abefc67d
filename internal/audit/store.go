// Package audit persists a trail of security-relevant events: key issuance,
// key revocation, and appliance API executions. Backends: SQLite, Postgres,
// or a no-op writer when auditing is disabled.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Event actions.
const (
	ActionKeyIssued   = "key_issued"
	ActionKeyRevoked  = "key_revoked"
	ActionAPIExecuted = "api_executed"
)

// Entry is a single audit event. KeyPrefix identifies the API key involved;
// raw keys and digests are never written to the trail.
type Entry struct {
	TraceID   string
	Action    string
	User      string
	KeyPrefix string
	Resource  string
	Verb      string
	Status    string
	CreatedAt time.Time
}

// Writer records audit events.
type Writer interface {
	Write(ctx context.Context, entry Entry) error
}

// NoopWriter ignores all audit writes.
type NoopWriter struct{}

func (NoopWriter) Write(_ context.Context, _ Entry) error { return nil }

// SQLWriter persists audit entries to SQLite or Postgres.
type SQLWriter struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteWriter opens a SQLite-backed audit trail. dsn can be a file path
// or SQLite DSN; defaults to gdpmcp-audit.db.
func NewSQLiteWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "gdpmcp-audit.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit trail: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresWriter opens a Postgres-backed audit trail.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres audit trail: %w", err)
	}
	w := &SQLWriter{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s audit trail: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY,
	trace_id TEXT,
	action TEXT NOT NULL,
	user_name TEXT,
	key_prefix TEXT,
	resource TEXT,
	verb TEXT,
	status TEXT,
	created_at TIMESTAMP NOT NULL
);`
	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS audit_events (
	id BIGSERIAL PRIMARY KEY,
	trace_id TEXT,
	action TEXT NOT NULL,
	user_name TEXT,
	key_prefix TEXT,
	resource TEXT,
	verb TEXT,
	status TEXT,
	created_at TIMESTAMP NOT NULL
);`
	}
	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("create audit_events table: %w", err)
	}
	return nil
}

// Write records one audit entry. A zero CreatedAt is filled with the current
// time.
func (w *SQLWriter) Write(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO audit_events
(trace_id, action, user_name, key_prefix, resource, verb, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO audit_events
(trace_id, action, user_name, key_prefix, resource, verb, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}

	if _, err := w.db.ExecContext(ctx, query,
		entry.TraceID, entry.Action, entry.User, entry.KeyPrefix,
		entry.Resource, entry.Verb, entry.Status, entry.CreatedAt); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit audit entries, newest first.
func (w *SQLWriter) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT trace_id, action, user_name, key_prefix, resource, verb, status, created_at
FROM audit_events ORDER BY created_at DESC, id DESC LIMIT ?`
	if w.dialect == "postgres" {
		query = strings.Replace(query, "LIMIT ?", "LIMIT $1", 1)
	}

	rows, err := w.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TraceID, &e.Action, &e.User, &e.KeyPrefix,
			&e.Resource, &e.Verb, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}
