package consumer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/dispatcher"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

// PushRegistry is the callback side of the dispatcher.
type PushRegistry interface {
	RegisterCallback(cb dispatcher.EventCallback) dispatcher.CallbackID
	UnregisterCallback(id dispatcher.CallbackID) bool
}

// PushConfig controls a push consumer.
type PushConfig struct {
	BatchSize int
	Logger    *zap.Logger
	Observer  Observer
}

// Push accumulates events delivered by dispatcher callbacks. Appends, the
// threshold check and the resulting flush all happen under one lock, so
// concurrent async deliveries never split or duplicate a batch.
//
// With an async dispatcher, callers must drain it (Dispatcher.WaitIdle)
// before Finish. A delivery still queued when Finish runs is rejected with
// ErrFinished and never reaches the sink.
type Push struct {
	reg      PushRegistry
	sink     sink.Sink
	cfg      PushConfig
	logger   *zap.Logger
	counters counters
	flusher  flusher

	mu       sync.Mutex
	batch    []event.Event
	started  bool
	finished bool
	id       dispatcher.CallbackID
}

// NewPush validates cfg and returns an unstarted consumer.
func NewPush(reg PushRegistry, s sink.Sink, cfg PushConfig) (*Push, error) {
	if reg == nil || s == nil {
		return nil, fmt.Errorf("push consumer requires a registry and sink")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	logger, observer := defaults(cfg.Logger, cfg.Observer)
	c := &Push{
		reg:    reg,
		sink:   s,
		cfg:    cfg,
		logger: logger.Named("push_consumer"),
		batch:  make([]event.Event, 0, cfg.BatchSize),
	}
	c.flusher = flusher{sink: s, model: "push", logger: c.logger, observer: observer, counters: &c.counters}
	return c, nil
}

// Start registers the consumer's callback.
func (c *Push) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	id := c.reg.RegisterCallback(c.onEvent)

	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	c.logger.Info("push consumer started", zap.Int("batch_size", c.cfg.BatchSize))
	return nil
}

func (c *Push) onEvent(ctx context.Context, ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return fmt.Errorf("event %d: %w", ev.EventID, ErrFinished)
	}
	c.counters.begin()
	c.batch = append(c.batch, ev)
	if len(c.batch) < c.cfg.BatchSize {
		return nil
	}
	return c.flushLocked(ctx)
}

// flushLocked hands the current batch to the sink and starts a new one.
// Callers hold c.mu.
func (c *Push) flushLocked(ctx context.Context) error {
	if len(c.batch) == 0 {
		return nil
	}
	batch := c.batch
	c.batch = make([]event.Event, 0, c.cfg.BatchSize)
	return c.flusher.flush(ctx, batch)
}

// Finish unregisters the callback, flushes the partial batch and records the
// end time. Later calls are no-ops. Drain the dispatcher first; deliveries
// that land after Finish fail with ErrFinished.
func (c *Push) Finish(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	id := c.id
	c.mu.Unlock()

	c.reg.UnregisterCallback(id)

	c.mu.Lock()
	c.finished = true
	err := c.flushLocked(ctx)
	c.mu.Unlock()

	c.counters.finish()
	stats := c.counters.snapshot()
	c.logger.Info("push consumer finished",
		zap.Int64("processed", stats.Processed),
		zap.Int64("failed_batches", stats.FailedBatches),
		zap.Duration("duration", stats.Duration),
	)
	if err != nil {
		return fmt.Errorf("push consumer: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the processing counters.
func (c *Push) Stats() Stats {
	return c.counters.snapshot()
}

// StoredCount reports how many events the sink holds.
func (c *Push) StoredCount(ctx context.Context) (int64, error) {
	n, err := c.sink.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("stored count: %w", err)
	}
	return n, nil
}
