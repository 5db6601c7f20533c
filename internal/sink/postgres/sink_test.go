package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var _ sink.Sink = (*Sink)(nil)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newMockSink(t *testing.T) (*Sink, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, "banking_events", fixedClock{now: time.Unix(1700000100, 0).UTC()})
	require.NoError(t, err)
	return s, mock
}

func sampleEvent(id int64) event.Event {
	return event.Event{
		EventID:       id,
		EventType:     event.TypePayment,
		AccountID:     "ACC000042",
		Amount:        99.99,
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		TransactionID: event.TransactionIDFor(id),
		Metadata:      event.Metadata{Currency: event.StringPtr("EUR")},
	}
}

func TestStoreBatchInsertsRowsInTransaction(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	ev := sampleEvent(5)
	payload, err := sink.Payload(ev)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO banking_events").
		WithArgs(
			ev.EventID,
			"PAYMENT",
			ev.AccountID,
			ev.Amount,
			ev.Timestamp,
			ev.TransactionID,
			nil,
			nil,
			"EUR",
			nil,
			time.Unix(1700000100, 0).UTC(),
			payload,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.StoreBatch(context.Background(), []event.Event{ev}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchChunksLargeBatches(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	batch := make([]event.Event, rowsPerStatement+5)
	for i := range batch {
		batch[i] = sampleEvent(int64(i))
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO banking_events").WillReturnResult(pgxmock.NewResult("INSERT", rowsPerStatement))
	mock.ExpectExec("INSERT INTO banking_events").WillReturnResult(pgxmock.NewResult("INSERT", 5))
	mock.ExpectCommit()

	require.NoError(t, s.StoreBatch(context.Background(), batch))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchRollsBackOnError(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO banking_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.StoreBatch(context.Background(), []event.Event{sampleEvent(1)})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchEmptySkipsDatabase(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	require.NoError(t, s.StoreBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeCreatesAndTruncates(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS banking_events").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS banking_events_account_idx").WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS banking_events_occurred_idx").WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec("TRUNCATE TABLE banking_events").WillReturnResult(pgxmock.NewResult("TRUNCATE TABLE", 0))

	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountReturnsRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockSink(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM banking_events")).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-name;", nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, "", nil)
	require.Error(t, err)

	s, err := NewWithPool(mock, "", nil)
	require.NoError(t, err)
	require.Equal(t, "banking_events", s.table)
}

func TestCloseRejectsFurtherWrites(t *testing.T) {
	t.Parallel()

	s, _ := newMockSink(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.StoreBatch(context.Background(), []event.Event{sampleEvent(1)}), sink.ErrClosed)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
