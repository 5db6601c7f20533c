// Package consumer accumulates dispatched events into batches and flushes
// them to a sink. Pull drains the dispatcher queue on its own goroutine; Push
// receives events through a registered callback.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var (
	// ErrAlreadyStarted is returned by a second Run or Start.
	ErrAlreadyStarted = errors.New("consumer already started")
	// ErrNotStarted is returned by Finish before Start.
	ErrNotStarted = errors.New("consumer not started")
	// ErrFinished is returned by a push callback that fires after Finish.
	ErrFinished = errors.New("consumer finished")
)

// SinkErrorPolicy decides what a pull consumer does after a failed flush.
type SinkErrorPolicy string

// Supported policies.
const (
	// AbortOnSinkError stops the consumer and returns the error from Run.
	AbortOnSinkError SinkErrorPolicy = "abort"
	// SkipOnSinkError logs the failure, counts it and keeps consuming.
	SkipOnSinkError SinkErrorPolicy = "skip"
)

// Observer receives flush metrics.
type Observer interface {
	BatchFlushed(model string, size int, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) BatchFlushed(string, int, time.Duration, error) {}

// Stats summarises a consumer. Rate is processed events per second and is
// zero when no time has elapsed.
type Stats struct {
	Processed     int64         `json:"processed"`
	Batches       int64         `json:"batches"`
	FailedBatches int64         `json:"failed_batches"`
	Duration      time.Duration `json:"duration"`
	Rate          float64       `json:"rate"`
}

type counters struct {
	mu        sync.Mutex
	processed int64
	batches   int64
	failed    int64
	start     time.Time
	end       time.Time
}

func (c *counters) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() {
		c.start = time.Now()
	}
}

func (c *counters) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.end.IsZero() {
		c.end = time.Now()
	}
}

func (c *counters) record(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		return
	}
	c.processed += int64(n)
	c.batches++
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Processed: c.processed, Batches: c.batches, FailedBatches: c.failed}
	switch {
	case c.start.IsZero():
	case c.end.IsZero():
		s.Duration = time.Since(c.start)
	default:
		s.Duration = c.end.Sub(c.start)
	}
	if s.Duration > 0 {
		s.Rate = float64(s.Processed) / s.Duration.Seconds()
	}
	return s
}

// flusher stores one batch and reports the outcome.
type flusher struct {
	sink     sink.Sink
	model    string
	logger   *zap.Logger
	observer Observer
	counters *counters
}

func (f *flusher) flush(ctx context.Context, batch []event.Event) error {
	start := time.Now()
	err := f.sink.StoreBatch(ctx, batch)
	took := time.Since(start)
	f.observer.BatchFlushed(f.model, len(batch), took, err)
	f.counters.record(len(batch), err)
	if err != nil {
		f.logger.Error("flush failed",
			zap.Int("size", len(batch)),
			zap.Int64("first_event_id", batch[0].EventID),
			zap.Error(err),
		)
		return fmt.Errorf("store batch of %d events: %w", len(batch), err)
	}
	f.logger.Debug("batch flushed", zap.Int("size", len(batch)), zap.Duration("took", took))
	return nil
}

func defaults(logger *zap.Logger, observer Observer) (*zap.Logger, Observer) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return logger, observer
}
