// Package ledger keeps the listening history: mindful time deltas and
// qualifying session completions, in SQLite.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store persists listening history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Completion is one recorded qualifying session.
type Completion struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SessionName string    `json:"session_name"`
	Seconds     float64   `json:"seconds"`
	CompletedAt time.Time `json:"completed_at"`
}

// Summary totals the history.
type Summary struct {
	MindfulSeconds float64      `json:"mindful_seconds"`
	Completions    int          `json:"completions"`
	Recent         []Completion `json:"recent"`
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens or creates the database at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite has one writer; a single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordListening stores a mindful time delta. Non-positive deltas are ignored.
func (s *Store) RecordListening(ctx context.Context, sessionID string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listening (id, session_id, seconds, recorded_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sessionID, d.Seconds(), toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("record listening: %w", err)
	}
	return nil
}

// RecordCompletion stores a qualifying session and returns its row id.
func (s *Store) RecordCompletion(ctx context.Context, sessionID, name string, cumulative time.Duration) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions (id, session_id, session_name, seconds, completed_at) VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, name, cumulative.Seconds(), toMillis(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("record completion: %w", err)
	}
	return id, nil
}

// Summary returns total mindful time, the completion count and the most
// recent completions, newest first.
func (s *Store) Summary(ctx context.Context, recent int) (Summary, error) {
	var sum Summary
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seconds), 0) FROM listening`).Scan(&sum.MindfulSeconds); err != nil {
		return Summary{}, fmt.Errorf("sum listening: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM completions`).Scan(&sum.Completions); err != nil {
		return Summary{}, fmt.Errorf("count completions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, session_name, seconds, completed_at
		   FROM completions ORDER BY completed_at DESC, rowid DESC LIMIT ?`, recent)
	if err != nil {
		return Summary{}, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()
	sum.Recent = []Completion{}
	for rows.Next() {
		var c Completion
		var at int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.SessionName, &c.Seconds, &at); err != nil {
			return Summary{}, fmt.Errorf("scan completion: %w", err)
		}
		c.CompletedAt = fromMillis(at)
		sum.Recent = append(sum.Recent, c)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("list completions: %w", err)
	}
	return sum, nil
}
