package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var _ sink.Sink = (*Sink)(nil)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(Config{
		Path:  filepath.Join(t.TempDir(), "events.db"),
		Clock: fixedClock{now: time.Unix(1700000100, 0)},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func bankingEvent(id int64) event.Event {
	return event.Event{
		EventID:       id,
		EventType:     event.TypeDeposit,
		AccountID:     event.AccountIDFor(int(id%10) + 1),
		Amount:        123.45,
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		TransactionID: event.TransactionIDFor(id),
		Metadata: event.Metadata{
			CountryCode: event.StringPtr("US"),
			Channel:     event.StringPtr("ATM"),
			Currency:    event.StringPtr("USD"),
		},
	}
}

func TestStoreBatchAndCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	batch := []event.Event{bankingEvent(1), bankingEvent(2), bankingEvent(3)}
	require.NoError(t, s.StoreBatch(ctx, batch))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestStoreBatchIsIdempotentByTransactionID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	require.NoError(t, s.StoreBatch(ctx, []event.Event{bankingEvent(1)}))
	require.NoError(t, s.StoreBatch(ctx, []event.Event{bankingEvent(1), bankingEvent(2)}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestStoreBatchPersistsColumnsAndPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	require.NoError(t, s.StoreBatch(ctx, []event.Event{bankingEvent(7)}))

	var (
		eventType, txn string
		status         sql.NullString
		ts, processed  float64
		payload        string
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT event_type, transaction_id, status, timestamp, processed_at, payload FROM banking_events WHERE event_id = ?`, 7)
	require.NoError(t, row.Scan(&eventType, &txn, &status, &ts, &processed, &payload))
	require.Equal(t, "DEPOSIT", eventType)
	require.Equal(t, "TXN0000000007", txn)
	require.False(t, status.Valid, "nil metadata must be stored as NULL")
	require.InDelta(t, 1700000000.0, ts, 1e-6)
	require.InDelta(t, 1700000100.0, processed, 1e-6)

	var decoded event.Event
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	require.Equal(t, int64(7), decoded.EventID)
	require.Equal(t, "USD", *decoded.Metadata.Currency)
}

func TestInitializeResetsTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	require.NoError(t, s.StoreBatch(ctx, []event.Event{bankingEvent(1)}))
	require.NoError(t, s.Initialize(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEmptyBatchAndClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	require.NoError(t, s.StoreBatch(ctx, nil))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.StoreBatch(ctx, []event.Event{bankingEvent(1)}), sink.ErrClosed)
	_, err := s.Count(ctx)
	require.ErrorIs(t, err, sink.ErrClosed)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestInMemoryDatabase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.StoreBatch(ctx, []event.Event{bankingEvent(1), bankingEvent(2)}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestStoreBatchKeepsExistingTransactionID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestSink(t)
	first := bankingEvent(1)
	first.TransactionID = "T1"
	require.NoError(t, s.StoreBatch(ctx, []event.Event{first}))

	again := bankingEvent(2)
	again.TransactionID = "T1"
	require.NoError(t, s.StoreBatch(ctx, []event.Event{again}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
