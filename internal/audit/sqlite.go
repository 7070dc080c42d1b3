package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"enertrade/internal/config"
)

// Entries older than this are pruned when the store opens.
const retention = 90 * 24 * time.Hour

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    kind      TEXT NOT NULL,
    user_id   TEXT NOT NULL DEFAULT '',
    commodity TEXT NOT NULL DEFAULT '',
    ref_id    TEXT NOT NULL DEFAULT '',
    detail    TEXT NOT NULL DEFAULT '{}',
    at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_log(at);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind);
`

// SQLite is the durable Sink. A single connection serializes writers, which
// is all the throughput an audit trail needs.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the audit database and prunes entries past the
// retention window.
func Open(cfg config.AuditConfig) (*SQLite, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit.Open: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("audit.Open: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit.Open: create schema: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.prune(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Record appends one entry. The entry's timestamp defaults to now if unset.
func (s *SQLite) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	detail := string(e.Detail)
	if detail == "" {
		detail = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (kind, user_id, commodity, ref_id, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.UserID, e.Commodity, e.RefID, detail, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("audit.Record: insert entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first. A non-positive limit
// returns up to 50.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, user_id, commodity, ref_id, detail, at
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit.Recent: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			detail string
			at     string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &e.Commodity, &e.RefID, &detail, &at); err != nil {
			return nil, fmt.Errorf("audit.Recent: scan entry: %w", err)
		}
		e.Detail = []byte(detail)
		e.At, err = time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("audit.Recent: parse timestamp %q: %w", at, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) prune() error {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`DELETE FROM audit_log WHERE at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("audit.Open: prune old entries: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
