package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS processed_messages (
    message_id   TEXT PRIMARY KEY,
    object_key   TEXT NOT NULL DEFAULT '',
    dialect      TEXT NOT NULL DEFAULT '',
    report_type  TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresLedger stores entries in the processed_messages table.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates the ledger table if needed. The ledger owns pool
// and closes it on Close.
func NewPostgresLedger(ctx context.Context, pool *pgxpool.Pool) (*PostgresLedger, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create processed_messages table: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

func (l *PostgresLedger) Seen(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE message_id = $1)`,
		messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed message %s: %w", messageID, err)
	}
	return exists, nil
}

func (l *PostgresLedger) Record(ctx context.Context, e Entry) error {
	e, err := normalize(e)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO processed_messages (message_id, object_key, dialect, report_type, processed_at)
		 VALUES (@id, @key, @dialect, @type, @at)
		 ON CONFLICT (message_id) DO NOTHING`,
		pgx.NamedArgs{
			"id":      e.MessageID,
			"key":     e.ObjectKey,
			"dialect": e.Dialect,
			"type":    e.ReportType,
			"at":      e.ProcessedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("record processed message %s: %w", e.MessageID, err)
	}
	return nil
}

// Get returns the entry recorded for messageID, or pgx.ErrNoRows.
func (l *PostgresLedger) Get(ctx context.Context, messageID string) (Entry, error) {
	var e Entry
	err := l.pool.QueryRow(ctx,
		`SELECT message_id, object_key, dialect, report_type, processed_at
		 FROM processed_messages WHERE message_id = $1`,
		messageID,
	).Scan(&e.MessageID, &e.ObjectKey, &e.Dialect, &e.ReportType, &e.ProcessedAt)
	return e, err
}

func (l *PostgresLedger) Ping(ctx context.Context) error { return l.pool.Ping(ctx) }
func (l *PostgresLedger) Driver() string                 { return "postgres" }

// Stats reports connection pool statistics for the health endpoint.
func (l *PostgresLedger) Stats() *PoolStats { return statsOf(l.pool) }

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
