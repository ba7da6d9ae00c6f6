// Package archive keeps a SQLite record of finished exchanges. It is an
// audit sink only: nothing in it is ever fed back into a session's context.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Outcome is how an exchange ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"   // Terminal fragment or natural end; trailer sent.
	OutcomeInterrupted Outcome = "interrupted" // Failed mid-stream; partial reply kept.
	OutcomeFailed      Outcome = "failed"      // Stream could not be opened.
	OutcomeCancelled   Outcome = "cancelled"   // Client left or server shut down.
)

// Exchange is one user turn and what became of it.
type Exchange struct {
	SessionID string
	Seq       int
	UserText  string
	Reply     string
	Model     string
	Outcome   Outcome
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	user_text  TEXT    NOT NULL,
	reply      TEXT    NOT NULL,
	model      TEXT    NOT NULL,
	outcome    TEXT    NOT NULL,
	error      TEXT    NOT NULL DEFAULT '',
	started_at TEXT    NOT NULL,
	ended_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, seq);
`

// Store is a SQLite-backed exchange archive. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("archive: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("archive: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordExchange appends one exchange.
func (s *Store) RecordExchange(ctx context.Context, ex Exchange) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (session_id, seq, user_text, reply, model, outcome, error, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.SessionID, ex.Seq, ex.UserText, ex.Reply, ex.Model, string(ex.Outcome), ex.Error,
		formatTime(ex.StartedAt), formatTime(ex.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("archive: record exchange: %w", err)
	}
	return nil
}

// Exchanges returns the exchanges of one session in sequence order.
func (s *Store) Exchanges(ctx context.Context, sessionID string) ([]Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, user_text, reply, model, outcome, error, started_at, ended_at
		 FROM exchanges WHERE session_id = ? ORDER BY seq, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: query exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Exchange
	for rows.Next() {
		var (
			ex               Exchange
			outcome          string
			started, stopped string
		)
		if err := rows.Scan(&ex.SessionID, &ex.Seq, &ex.UserText, &ex.Reply, &ex.Model,
			&outcome, &ex.Error, &started, &stopped); err != nil {
			return nil, fmt.Errorf("archive: scan exchange: %w", err)
		}
		ex.Outcome = Outcome(outcome)
		ex.StartedAt = parseTime(started)
		ex.EndedAt = parseTime(stopped)
		out = append(out, ex)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate exchanges: %w", err)
	}

	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
