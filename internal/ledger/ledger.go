// Package ledger records an append-only history of processing
// attempts in a SQLite database. It is purely additive observability:
// the tracking.Store JSON file remains the sole source of truth for
// reconciliation decisions; the ledger exists for the status CLI and
// post-incident review.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/dndvisualizer/internal/tracking"
)

// Entry is one recorded processing attempt.
type Entry struct {
	ID         string
	Scene      string
	Filename   string
	Attempt    int
	Status     tracking.Status
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the attempt took.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Ledger wraps a SQLite-backed attempt history table.
type Ledger struct {
	db *sql.DB
}

// Open creates or attaches to the ledger database at path, creating
// its schema if necessary. Use ":memory:" for tests.
func Open(path string) (*Ledger, error) {
	if path == "" {
		path = "dnd_ledger.sqlite"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			scene TEXT NOT NULL,
			filename TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_scene ON attempts(scene);
		CREATE INDEX IF NOT EXISTS idx_attempts_started ON attempts(started_at);
	`)
	if err != nil {
		return fmt.Errorf("ledger: migrate: %w", err)
	}
	return nil
}

// Append records one processing attempt. It never mutates or deletes
// existing rows.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts (id, scene, filename, attempt, status, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Scene, e.Filename, e.Attempt, string(e.Status), e.Reason, e.StartedAt, nullTime(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// Recent returns the most recent attempts, newest first, bounded by
// limit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, scene, filename, attempt, status, reason, started_at, finished_at
		FROM attempts ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AttemptCount returns how many attempts have already been recorded
// for filename, for computing the next attempt number.
func (l *Ledger) AttemptCount(ctx context.Context, filename string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE filename = ?`, filename).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ledger: attempt count: %w", err)
	}
	return count, nil
}

// StatusCounts summarizes attempt counts by their terminal status,
// used by the status CLI command.
func (l *Ledger) StatusCounts(ctx context.Context) (map[tracking.Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM attempts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("ledger: status counts: %w", err)
	}
	defer rows.Close()

	counts := map[tracking.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[tracking.Status(status)] = count
	}
	return counts, rows.Err()
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var status string
	var reason sql.NullString
	var finished sql.NullTime

	if err := rows.Scan(&e.ID, &e.Scene, &e.Filename, &e.Attempt, &status, &reason, &e.StartedAt, &finished); err != nil {
		return Entry{}, fmt.Errorf("ledger: scan: %w", err)
	}
	e.Status = tracking.Status(status)
	e.Reason = reason.String
	if finished.Valid {
		e.FinishedAt = finished.Time
	}
	return e, nil
}
