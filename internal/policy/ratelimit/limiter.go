// Package ratelimit paces event production with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration. EventsPerSecond <= 0 disables
// limiting.
type Config struct {
	EventsPerSecond float64
	Burst           int
	// OnDelay, when set, receives every wait that actually blocked.
	OnDelay func(time.Duration)
}

// Limiter admits events at a steady rate.
type Limiter struct {
	limiter *rate.Limiter
	burst   int
	onDelay func(time.Duration)
}

// New creates a new Limiter. The burst defaults to one second of events,
// and to 1 when that rounds to zero.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.EventsPerSecond)
	if cfg.EventsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.EventsPerSecond))
	}
	return &Limiter{
		limiter: rate.NewLimiter(r, burst),
		burst:   burst,
		onDelay: cfg.OnDelay,
	}
}

// Unlimited reports whether Wait never blocks.
func (l *Limiter) Unlimited() bool {
	return l.limiter.Limit() == rate.Inf
}

// Wait blocks until n events may proceed. Requests larger than the burst are
// split into burst-sized reservations.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if n <= 0 || l.Unlimited() {
		return nil
	}
	start := time.Now()
	for n > 0 {
		chunk := min(n, l.burst)
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		n -= chunk
	}
	if d := time.Since(start); d > time.Millisecond && l.onDelay != nil {
		l.onDelay(d)
	}
	return nil
}
