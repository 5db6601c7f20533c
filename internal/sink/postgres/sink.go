// Package postgres stores event batches in Postgres through pgx.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable = "banking_events"
	columnCount  = 12
	// rowsPerStatement keeps each INSERT well below the 65535 bind-parameter limit.
	rowsPerStatement = 1000
)

// Config controls the Postgres connection pool used for event rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Clock           sink.Clock
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Sink writes events into a Postgres table.
type Sink struct {
	pool   pool
	table  string
	clock  sink.Clock
	mu     sync.RWMutex
	closed bool
}

// New creates a Postgres-backed Sink using the provided config.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.postgres_dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: p, table: table, clock: sink.DefaultClock(cfg.Clock)}, nil
}

// NewWithPool constructs a Sink from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, clock sink.Clock) (*Sink, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Sink{pool: p, table: name, clock: sink.DefaultClock(clock)}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Initialize creates the table and indexes if needed and empties the table.
func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	event_id BIGINT PRIMARY KEY,
	event_type TEXT NOT NULL,
	account_id TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	transaction_id TEXT UNIQUE NOT NULL,
	country_code CHAR(2),
	channel TEXT,
	currency TEXT,
	status TEXT,
	processed_at TIMESTAMPTZ,
	payload JSONB
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_account_idx ON %s (account_id, country_code, channel)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_occurred_idx ON %s (occurred_at, country_code, channel)`, s.table, s.table),
		fmt.Sprintf(`TRUNCATE TABLE %s`, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s: %w", s.table, err)
		}
	}
	return nil
}

// StoreBatch inserts the batch in one transaction. Conflicting transaction
// ids are skipped.
func (s *Sink) StoreBatch(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	processedAt := s.clock.Now()
	for start := 0; start < len(batch); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(batch))
		query, args, err := s.insertStatement(batch[start:end], processedAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert events: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Sink) insertStatement(rows []event.Event, processedAt time.Time) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `INSERT INTO %s (
	event_id, event_type, account_id, amount, occurred_at, transaction_id,
	country_code, channel, currency, status, processed_at, payload
) VALUES `, s.table)

	args := make([]any, 0, len(rows)*columnCount)
	for i, ev := range rows {
		payload, err := sink.Payload(ev)
		if err != nil {
			return "", nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < columnCount; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", i*columnCount+c+1)
		}
		b.WriteByte(')')
		md := ev.Metadata
		args = append(args,
			ev.EventID,
			string(ev.EventType),
			ev.AccountID,
			ev.Amount,
			ev.Timestamp,
			ev.TransactionID,
			sink.Nullable(md.CountryCode),
			sink.Nullable(md.Channel),
			sink.Nullable(md.Currency),
			sink.Nullable(md.Status),
			processedAt,
			payload,
		)
	}
	b.WriteString(" ON CONFLICT DO NOTHING")
	return b.String(), args, nil
}

// Count returns the number of stored rows.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, sink.ErrClosed
	}
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}
