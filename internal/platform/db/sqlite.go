package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS processed_messages (
	message_id   TEXT PRIMARY KEY,
	object_key   TEXT NOT NULL DEFAULT '',
	dialect      TEXT NOT NULL DEFAULT '',
	report_type  TEXT NOT NULL DEFAULT '',
	processed_at TEXT NOT NULL
)`

// SQLiteLedger stores entries in an embedded SQLite file.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

// NewSQLiteLedger opens (creating if needed) the database at path.
func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	if path == "" {
		path = "hl7ingest.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create processed_messages table: %w", err)
	}
	return &SQLiteLedger{db: db, path: path}, nil
}

func (l *SQLiteLedger) Seen(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM processed_messages WHERE message_id = ?`, messageID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query processed message %s: %w", messageID, err)
	}
	return n > 0, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, e Entry) error {
	e, err := normalize(e)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_messages (message_id, object_key, dialect, report_type, processed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.MessageID, e.ObjectKey, e.Dialect, e.ReportType, e.ProcessedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record processed message %s: %w", e.MessageID, err)
	}
	return nil
}

// Get returns the entry recorded for messageID, or sql.ErrNoRows.
func (l *SQLiteLedger) Get(ctx context.Context, messageID string) (Entry, error) {
	var (
		e  Entry
		at string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT message_id, object_key, dialect, report_type, processed_at
		 FROM processed_messages WHERE message_id = ?`, messageID,
	).Scan(&e.MessageID, &e.ObjectKey, &e.Dialect, &e.ReportType, &at)
	if err != nil {
		return Entry{}, err
	}
	e.ProcessedAt, err = time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Entry{}, fmt.Errorf("parse processed_at %q: %w", at, err)
	}
	return e, nil
}

func (l *SQLiteLedger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }
func (l *SQLiteLedger) Driver() string                 { return "sqlite" }
func (l *SQLiteLedger) Path() string                   { return l.path }
func (l *SQLiteLedger) Close() error                   { return l.db.Close() }
