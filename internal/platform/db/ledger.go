// Package db holds the processed-message ledger: a record of every message
// id that has been parsed and stored, consulted so that re-delivered
// messages are not uploaded or announced twice.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrEmptyMessageID = errors.New("db: message id is required")
	ErrUnknownDriver  = errors.New("db: unknown ledger driver")
)

// Entry is one processed message.
type Entry struct {
	MessageID   string
	ObjectKey   string
	Dialect     string
	ReportType  string
	ProcessedAt time.Time
}

// Ledger records processed message ids. Record is idempotent: recording an
// id twice keeps the first entry.
type Ledger interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Record(ctx context.Context, e Entry) error
	Ping(ctx context.Context) error
	Driver() string
	Close() error
}

// Options selects and configures a Ledger implementation.
type Options struct {
	Driver      string
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
	SQLitePath  string
}

// Open returns the Ledger named by opts.Driver, creating its schema.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "memory":
		return NewMemoryLedger(), nil
	case "postgres":
		pool, err := NewPool(ctx, PoolConfig{
			URL:      opts.DatabaseURL,
			MaxConns: opts.MaxConns,
			MinConns: opts.MinConns,
		})
		if err != nil {
			return nil, err
		}
		l, err := NewPostgresLedger(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return l, nil
	case "sqlite":
		return NewSQLiteLedger(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}

func normalize(e Entry) (Entry, error) {
	e.MessageID = strings.TrimSpace(e.MessageID)
	if e.MessageID == "" {
		return e, ErrEmptyMessageID
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	e.ProcessedAt = e.ProcessedAt.UTC()
	return e, nil
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryLedger is a thread-safe Ledger for tests and single-process runs.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]Entry)}
}

func (l *MemoryLedger) Seen(_ context.Context, messageID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[strings.TrimSpace(messageID)]
	return ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, e Entry) error {
	e, err := normalize(e)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[e.MessageID]; !ok {
		l.entries[e.MessageID] = e
	}
	return nil
}

// Get returns the entry recorded for messageID.
func (l *MemoryLedger) Get(messageID string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[messageID]
	return e, ok
}

func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }
func (l *MemoryLedger) Driver() string             { return "memory" }
func (l *MemoryLedger) Close() error               { return nil }
