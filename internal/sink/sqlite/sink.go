// Package sqlite stores event batches in a SQLite database using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

const schema = `
CREATE TABLE IF NOT EXISTS banking_events (
	event_id INTEGER PRIMARY KEY,
	event_type TEXT NOT NULL,
	account_id TEXT NOT NULL,
	amount REAL NOT NULL,
	timestamp REAL NOT NULL,
	transaction_id TEXT UNIQUE NOT NULL,
	country_code CHAR(2),
	channel TEXT,
	currency TEXT,
	status TEXT,
	processed_at REAL,
	payload JSON
)`

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_account_id ON banking_events(account_id, country_code, channel)`,
	`CREATE INDEX IF NOT EXISTS idx_timestamp ON banking_events(timestamp, country_code, channel)`,
}

const insertEvent = `
INSERT OR IGNORE INTO banking_events (
	event_id, event_type, account_id, amount, timestamp, transaction_id,
	country_code, channel, currency, status, processed_at, payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Config controls where the database lives.
type Config struct {
	// Path is a file path or ":memory:".
	Path  string
	Clock sink.Clock
}

// Sink writes events to the banking_events table.
type Sink struct {
	db     *sql.DB
	clock  sink.Clock
	mu     sync.Mutex
	closed bool
}

// New opens the database. Call Initialize before storing.
func New(cfg Config) (*Sink, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	return &Sink{db: db, clock: sink.DefaultClock(cfg.Clock)}, nil
}

// Initialize drops and recreates the table and its indexes.
func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS banking_events`); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// StoreBatch inserts the batch in one transaction, ignoring rows whose
// event id or transaction id already exists.
func (s *Sink) StoreBatch(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := insertAll(ctx, tx, batch, s.clock); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func insertAll(ctx context.Context, tx *sql.Tx, batch []event.Event, clock sink.Clock) error {
	stmt, err := tx.PrepareContext(ctx, insertEvent)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	processedAt := float64(clock.Now().UnixNano()) / 1e9
	for _, ev := range batch {
		payload, err := sink.Payload(ev)
		if err != nil {
			return err
		}
		md := ev.Metadata
		if _, err := stmt.ExecContext(ctx,
			ev.EventID,
			string(ev.EventType),
			ev.AccountID,
			ev.Amount,
			ev.UnixSeconds(),
			ev.TransactionID,
			sink.Nullable(md.CountryCode),
			sink.Nullable(md.Channel),
			sink.Nullable(md.Currency),
			sink.Nullable(md.Status),
			processedAt,
			string(payload),
		); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.EventID, err)
		}
	}
	return nil
}

// Count returns the number of stored rows.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, sink.ErrClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM banking_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Close releases the database handle. Safe to call twice.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
