package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.True(t, l.Unlimited())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), 1_000_000))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterPacesBeyondBurst(t *testing.T) {
	t.Parallel()

	var delays atomic.Int64
	l := New(Config{
		EventsPerSecond: 100,
		Burst:           10,
		OnDelay:         func(time.Duration) { delays.Add(1) },
	})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, 10))

	// 10 more tokens at 100/s take about 100ms.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, 10))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Positive(t, delays.Load())
}

func TestLimiterSplitsLargeRequests(t *testing.T) {
	t.Parallel()

	l := New(Config{EventsPerSecond: 1000, Burst: 50})
	// A single WaitN larger than the burst would fail outright.
	require.NoError(t, l.Wait(context.Background(), 120))
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{EventsPerSecond: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx, 1))
	cancel()
	require.ErrorIs(t, l.Wait(ctx, 1), context.Canceled)
}

func TestLimiterDefaultBurst(t *testing.T) {
	t.Parallel()

	require.Equal(t, 250, New(Config{EventsPerSecond: 250}).burst)
	require.Equal(t, 1, New(Config{EventsPerSecond: 0.5}).burst)
}
