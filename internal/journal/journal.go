// Package journal keeps a SQLite record of every delivery attempt the
// relay makes, so an operator can answer "did my alert actually go out"
// after the fact.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000 // milliseconds

// Outcome values for a delivery attempt.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// Entry is one recorded delivery attempt. Detail holds the failure reason
// for failed deliveries and is empty otherwise.
type Entry struct {
	ID        string
	CreatedAt time.Time
	ChatID    int64
	Chars     int
	ParseMode string
	Outcome   string
	Detail    string
}

// Journal records delivery attempts in a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens the journal database at the given path, creating it and its
// parent directory if needed.
//
// The database is created with WAL mode, a 5 s busy timeout, and a single
// connection (SQLite serialises writes). The schema is migrated automatically.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("journal: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores one delivery attempt. A missing id or timestamp is filled in.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, created_at, chat_id, chars, parse_mode, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, createdAt.Format(time.RFC3339Nano),
		e.ChatID, e.Chars, e.ParseMode, e.Outcome, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("journal: record delivery: %w", err)
	}

	return nil
}

// Recent returns up to limit entries, newest first by insertion order.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, created_at, chat_id, chars, parse_mode, outcome, detail
		FROM deliveries
		ORDER BY rowid DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.ChatID, &e.Chars, &e.ParseMode, &e.Outcome, &e.Detail); err != nil {
			return nil, fmt.Errorf("journal: scan delivery: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("journal: parse created_at: %w", err)
		}
		e.CreatedAt = ts
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate deliveries: %w", err)
	}

	return entries, nil
}
