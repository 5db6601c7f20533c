package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var _ sink.Sink = (*Sink)(nil)

func ev(id int64) event.Event {
	return event.Event{EventID: id, TransactionID: event.TransactionIDFor(id)}
}

func TestStoreBatchIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.StoreBatch(ctx, []event.Event{ev(1)}))

	require.NoError(t, s.StoreBatch(ctx, []event.Event{ev(1), ev(2)}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, []int64{1, 2}, event.IDs(s.Events()))
}

func TestStoreBatchEmptyIsNoop(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.StoreBatch(context.Background(), nil))
	require.Empty(t, s.Events())
}

func TestInitializeResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	require.NoError(t, s.StoreBatch(ctx, []event.Event{ev(1), ev(2)}))
	require.NoError(t, s.Initialize(ctx))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestClosedSinkRejectsWrites(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.StoreBatch(context.Background(), []event.Event{ev(1)}), sink.ErrClosed)
}

func TestStoreBatchKeepsExistingTransactionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		batch []event.Event
		want  int64
	}{
		{name: "same transaction other event id", batch: []event.Event{{EventID: 2, TransactionID: "T1"}}, want: 1},
		{name: "duplicate alongside new transaction", batch: []event.Event{{EventID: 3, TransactionID: "T1"}, {EventID: 4, TransactionID: "T2"}}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s := New()
			require.NoError(t, s.StoreBatch(ctx, []event.Event{{EventID: 1, TransactionID: "T1"}}))
			require.NoError(t, s.StoreBatch(ctx, tt.batch))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.want, n)
			require.EqualValues(t, 1, s.Events()[0].EventID, "first write for T1 wins")
		})
	}
}
