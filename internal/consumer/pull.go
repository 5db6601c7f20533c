package consumer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

const (
	defaultPollTimeout  = 50 * time.Millisecond
	defaultFlushTimeout = 10 * time.Second
)

// State is the lifecycle position of a pull consumer.
type State int32

// Pull consumer states, in order.
const (
	StateIdle State = iota
	StateRunning
	// StateDraining means stop was requested while events were still queued.
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PullSource is the queue side of the dispatcher.
type PullSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (event.Event, bool)
	HasEvents() bool
	Acknowledge(n int)
}

// PullConfig controls a pull consumer.
//   - BatchSize: events per sink call; required.
//   - PollTimeout: wait per dequeue (default 50ms).
//   - FlushTimeout: budget for the final flush after ctx ends (default 10s).
//   - OnSinkError: abort (default) or skip.
type PullConfig struct {
	BatchSize    int
	PollTimeout  time.Duration
	FlushTimeout time.Duration
	OnSinkError  SinkErrorPolicy
	Logger       *zap.Logger
	Observer     Observer
}

// Pull drains a PullSource into a sink.
type Pull struct {
	src      PullSource
	sink     sink.Sink
	cfg      PullConfig
	logger   *zap.Logger
	counters counters
	flusher  flusher

	state         atomic.Int32
	stopRequested atomic.Bool
}

// NewPull validates cfg and returns an idle consumer.
func NewPull(src PullSource, s sink.Sink, cfg PullConfig) (*Pull, error) {
	if src == nil || s == nil {
		return nil, fmt.Errorf("pull consumer requires a source and sink")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	switch cfg.OnSinkError {
	case "":
		cfg.OnSinkError = AbortOnSinkError
	case AbortOnSinkError, SkipOnSinkError:
	default:
		return nil, fmt.Errorf("unknown sink error policy %q", cfg.OnSinkError)
	}
	logger, observer := defaults(cfg.Logger, cfg.Observer)
	c := &Pull{
		src:    src,
		sink:   s,
		cfg:    cfg,
		logger: logger.Named("pull_consumer"),
	}
	c.flusher = flusher{sink: s, model: "pull", logger: c.logger, observer: observer, counters: &c.counters}
	return c, nil
}

// Run consumes until Stop has been called and the source is empty, then
// flushes the partial batch once. It is meant to run on its own goroutine.
// When ctx ends first, the partial batch is still flushed under a fresh
// context bounded by FlushTimeout and the ctx error is returned.
func (c *Pull) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	c.counters.begin()
	c.logger.Info("pull consumer started", zap.Int("batch_size", c.cfg.BatchSize))

	var runErr error
	batch := make([]event.Event, 0, c.cfg.BatchSize)
	for ctx.Err() == nil {
		if c.stopRequested.Load() {
			if !c.src.HasEvents() {
				break
			}
			c.state.Store(int32(StateDraining))
		}
		ev, ok := c.src.Dequeue(ctx, c.cfg.PollTimeout)
		if !ok {
			continue
		}
		batch = append(batch, ev)
		if len(batch) < c.cfg.BatchSize {
			continue
		}
		err := c.flush(ctx, batch)
		batch = make([]event.Event, 0, c.cfg.BatchSize)
		if err != nil && c.cfg.OnSinkError == AbortOnSinkError {
			runErr = err
			break
		}
	}

	if len(batch) > 0 {
		flushCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FlushTimeout)
			defer cancel()
		}
		if err := c.flush(flushCtx, batch); err != nil && runErr == nil && c.cfg.OnSinkError == AbortOnSinkError {
			runErr = err
		}
	}

	c.counters.finish()
	c.state.Store(int32(StateStopped))
	stats := c.counters.snapshot()
	c.logger.Info("pull consumer stopped",
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed_batches", stats.FailedBatches),
		zap.Duration("duration", stats.Duration),
	)

	if runErr != nil {
		return fmt.Errorf("pull consumer: %w", runErr)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("pull consumer: %w", err)
	}
	return nil
}

// flush stores the batch and acknowledges it on the source whatever the
// outcome, so drain waiters are released.
func (c *Pull) flush(ctx context.Context, batch []event.Event) error {
	err := c.flusher.flush(ctx, batch)
	c.src.Acknowledge(len(batch))
	return err
}

// Stop asks Run to finish once the source is empty.
func (c *Pull) Stop() {
	c.stopRequested.Store(true)
}

// State returns the current lifecycle state.
func (c *Pull) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the processing counters.
func (c *Pull) Stats() Stats {
	return c.counters.snapshot()
}

// StoredCount reports how many events the sink holds.
func (c *Pull) StoredCount(ctx context.Context) (int64, error) {
	n, err := c.sink.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("stored count: %w", err)
	}
	return n, nil
}
