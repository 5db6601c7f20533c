package producer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/event-dispatch/internal/dispatcher"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/metrics"
)

var (
	_ Transport = (*dispatcher.Dispatcher)(nil)
	_ Observer  = (*metrics.Recorder)(nil)
)

type fakeTransport struct {
	mu       sync.Mutex
	enqueued [][]event.Event
	pushed   [][]event.Event
	blocks   []bool
	err      error
}

func (f *fakeTransport) EnqueueBatch(_ context.Context, evs []event.Event, block bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, append([]event.Event(nil), evs...))
	f.blocks = append(f.blocks, block)
	return f.err
}

func (f *fakeTransport) PushBatch(_ context.Context, evs []event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, append([]event.Event(nil), evs...))
}

type countingObserver struct {
	mu       sync.Mutex
	produced map[string]int
}

func (o *countingObserver) EventsProduced(model string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.produced == nil {
		o.produced = make(map[string]int)
	}
	o.produced[model] += n
}

func (o *countingObserver) RateLimitDelay(time.Duration) {}

func newFactory() event.Factory {
	return event.NewRandomFactory(event.FactoryConfig{Seed: 1})
}

func sizes(batches [][]event.Event) []int {
	out := make([]int, len(batches))
	for i, b := range batches {
		out[i] = len(b)
	}
	return out
}

func TestRunPullSendsSequentialBatches(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	obs := &countingObserver{}
	p, err := New(tr, newFactory(), Config{NumEvents: 10, BatchSize: 4, Model: ModelPull, Observer: obs})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))

	require.Equal(t, []int{4, 4, 2}, sizes(tr.enqueued))
	require.Equal(t, []bool{false, false, false}, tr.blocks)
	require.Empty(t, tr.pushed)

	var ids []int64
	for _, b := range tr.enqueued {
		ids = append(ids, event.IDs(b)...)
	}
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids)

	stats := p.Stats()
	require.EqualValues(t, 10, stats.Produced)
	require.Equal(t, 10, obs.produced["pull"])
}

func TestRunPushUsesPushBatch(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	p, err := New(tr, newFactory(), Config{NumEvents: 5, BatchSize: 5, Model: ModelPush})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background()))
	require.Equal(t, []int{5}, sizes(tr.pushed))
	require.Empty(t, tr.enqueued)
	require.EqualValues(t, 5, p.Stats().Produced)
}

func TestRunAbortsOnCapacityExhaustion(t *testing.T) {
	t.Parallel()

	d := dispatcher.New(dispatcher.Config{QueueCapacity: 5, FallbackTimeout: 5 * time.Millisecond})
	p, err := New(d, newFactory(), Config{NumEvents: 20, BatchSize: 10, Model: ModelPull})
	require.NoError(t, err)

	err = p.Run(context.Background())
	require.ErrorIs(t, err, dispatcher.ErrCapacityExhausted)
	require.EqualValues(t, 5, p.Stats().Produced)
	require.Equal(t, 5, d.Len())
}

func TestRunReturnsTransportError(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{err: errors.New("broken")}
	p, err := New(tr, newFactory(), Config{NumEvents: 8, BatchSize: 4, Model: ModelPull})
	require.NoError(t, err)

	require.ErrorContains(t, p.Run(context.Background()), "broken")
	require.Len(t, tr.enqueued, 1)
	require.Zero(t, p.Stats().Produced)
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	p, err := New(tr, newFactory(), Config{NumEvents: 100, BatchSize: 10, Model: ModelPull})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Run(ctx), context.Canceled)
	require.Empty(t, tr.enqueued)
}

func TestRunOnlyOnce(t *testing.T) {
	t.Parallel()

	p, err := New(&fakeTransport{}, newFactory(), Config{NumEvents: 1, BatchSize: 1, Model: ModelPull})
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background()))
	require.ErrorIs(t, p.Run(context.Background()), ErrAlreadyRun)
}

func TestRunHonoursRateLimit(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	p, err := New(tr, newFactory(), Config{
		NumEvents: 30,
		BatchSize: 10,
		Model:     ModelPush,
		RateLimit: 200,
		Burst:     10,
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, p.Run(context.Background()))
	// The first burst is free; the remaining 20 events need about 100ms.
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Len(t, tr.pushed, 3)
}

func TestStatsBeforeRun(t *testing.T) {
	t.Parallel()

	p, err := New(&fakeTransport{}, newFactory(), Config{NumEvents: 1, BatchSize: 1, Model: ModelPull})
	require.NoError(t, err)
	require.Equal(t, Stats{}, p.Stats())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	f := newFactory()
	tr := &fakeTransport{}
	_, err := New(nil, f, Config{BatchSize: 1, Model: ModelPull})
	require.Error(t, err)
	_, err = New(tr, nil, Config{BatchSize: 1, Model: ModelPull})
	require.Error(t, err)
	_, err = New(tr, f, Config{BatchSize: 0, Model: ModelPull})
	require.Error(t, err)
	_, err = New(tr, f, Config{BatchSize: 1, Model: "poll"})
	require.Error(t, err)
	_, err = New(tr, f, Config{NumEvents: -1, BatchSize: 1, Model: ModelPush})
	require.Error(t, err)
}
