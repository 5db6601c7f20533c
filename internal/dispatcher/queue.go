package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/queue/memory"
)

// Enqueue adds ev to the PULL queue without waiting. If the queue is full it
// makes one blocking attempt bounded by FallbackTimeout before giving up with
// ErrCapacityExhausted.
func (d *Dispatcher) Enqueue(ctx context.Context, ev event.Event) error {
	if err := d.enqueue(ctx, ev, false, 0); err != nil {
		d.recordRejected(1)
		return err
	}
	return nil
}

// EnqueueBlocking waits up to timeout for room (until ctx ends when timeout is
// not positive), then falls back the same way Enqueue does.
func (d *Dispatcher) EnqueueBlocking(ctx context.Context, ev event.Event, timeout time.Duration) error {
	if err := d.enqueue(ctx, ev, true, timeout); err != nil {
		d.recordRejected(1)
		return err
	}
	return nil
}

// BatchError reports the events of one EnqueueBatch call that were not
// enqueued. It unwraps to ErrCapacityExhausted, ErrClosed or the context
// error.
type BatchError struct {
	Rejected int
	Total    int
	Canceled bool
	err      error
}

func (e *BatchError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("enqueue batch canceled after %d of %d events: %v", e.Total-e.Rejected, e.Total, e.err)
	}
	return fmt.Sprintf("enqueue batch: %d of %d events rejected: %v", e.Rejected, e.Total, e.err)
}

func (e *BatchError) Unwrap() error { return e.err }

// Accepted is the number of events that made it into the queue.
func (e *BatchError) Accepted() int { return e.Total - e.Rejected }

// EnqueueBatch enqueues every event in order. An event that cannot be
// enqueued is retried once with a blocking attempt; events that still fail
// are skipped and reported together in a *BatchError. Context cancellation
// stops the batch immediately.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, evs []event.Event, block bool) error {
	var rejected int
	for i, ev := range evs {
		err := d.enqueue(ctx, ev, block, 0)
		if errors.Is(err, ErrClosed) {
			d.recordRejected(len(evs) - i)
			return &BatchError{Rejected: rejected + len(evs) - i, Total: len(evs), err: err}
		}
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("batch enqueue failed, retrying once",
				zap.Int64("event_id", ev.EventID),
				zap.Error(err),
			)
			err = d.enqueue(ctx, ev, true, d.cfg.FallbackTimeout)
		}
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			d.recordRejected(len(evs) - i)
			return &BatchError{Rejected: rejected + len(evs) - i, Total: len(evs), Canceled: true, err: ctxErr}
		}
		rejected++
		d.recordRejected(1)
		d.logger.Error("event rejected from batch",
			zap.Int64("event_id", ev.EventID),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err),
		)
	}
	if rejected > 0 {
		return &BatchError{Rejected: rejected, Total: len(evs), err: ErrCapacityExhausted}
	}
	return nil
}

// Dequeue removes the next event, waiting up to timeout (until ctx ends when
// timeout is not positive). The boolean is false when no event arrived.
func (d *Dispatcher) Dequeue(ctx context.Context, timeout time.Duration) (event.Event, bool) {
	if ev, ok := d.queue.TryDequeue(); ok {
		d.markDequeued(1)
		return ev, true
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ev, err := d.queue.Dequeue(ctx)
	if err != nil {
		return event.Event{}, false
	}
	d.markDequeued(1)
	return ev, true
}

// DequeueBatch waits up to timeout for a first event and then takes whatever
// else is already queued, up to maxSize events in total.
func (d *Dispatcher) DequeueBatch(ctx context.Context, maxSize int, timeout time.Duration) []event.Event {
	if maxSize <= 0 {
		return nil
	}
	first, ok := d.Dequeue(ctx, timeout)
	if !ok {
		return nil
	}
	batch := make([]event.Event, 1, maxSize)
	batch[0] = first
	for len(batch) < maxSize {
		ev, ok := d.queue.TryDequeue()
		if !ok {
			break
		}
		batch = append(batch, ev)
	}
	if extra := len(batch) - 1; extra > 0 {
		d.markDequeued(extra)
	}
	return batch
}

// Acknowledge marks n dequeued events as fully processed. Acknowledging more
// events than are outstanding is logged and clamped.
func (d *Dispatcher) Acknowledge(n int) {
	if n <= 0 {
		return
	}
	d.drainMu.Lock()
	acked := int64(n)
	if acked > d.outstanding {
		d.logger.Warn("acknowledged more events than outstanding",
			zap.Int("requested", n),
			zap.Int64("outstanding", d.outstanding),
		)
		acked = d.outstanding
	}
	d.outstanding -= acked
	d.finishLocked(acked)
	d.drainMu.Unlock()

	if acked > 0 {
		d.updateStats(func(s *Stats) { s.Acknowledged += acked })
	}
}

// AwaitDrain blocks until every enqueued event has been dequeued and
// acknowledged, or ctx ends.
func (d *Dispatcher) AwaitDrain(ctx context.Context) error {
	for {
		d.drainMu.Lock()
		if d.unfinished == 0 {
			d.drainMu.Unlock()
			return nil
		}
		wait := d.drained
		d.drainMu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("await drain: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len returns the number of events waiting in the queue.
func (d *Dispatcher) Len() int {
	return d.queue.Len()
}

// HasEvents reports whether the queue is non-empty.
func (d *Dispatcher) HasEvents() bool {
	return d.queue.Len() > 0
}

func (d *Dispatcher) enqueue(ctx context.Context, ev event.Event, block bool, timeout time.Duration) error {
	d.drainMu.Lock()
	d.unfinished++
	d.drainMu.Unlock()

	if err := d.put(ctx, ev, block, timeout); err != nil {
		d.drainMu.Lock()
		d.finishLocked(1)
		d.drainMu.Unlock()
		return err
	}

	d.updateStats(func(s *Stats) {
		s.Received++
		s.Queued++
	})
	d.observer.EventsEnqueued(1)
	d.observer.QueueDepth(d.queue.Len())
	return nil
}

func (d *Dispatcher) put(ctx context.Context, ev event.Event, block bool, timeout time.Duration) error {
	if block {
		err := d.putWithin(ctx, ev, timeout)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return fmt.Errorf("enqueue event %d: %w", ev.EventID, err)
		}
	} else if d.queue.TryEnqueue(ev) {
		return nil
	}

	d.logger.Warn("queue full, falling back to blocking enqueue",
		zap.Int64("event_id", ev.EventID),
		zap.Duration("timeout", d.cfg.FallbackTimeout),
	)
	if err := d.putWithin(ctx, ev, d.cfg.FallbackTimeout); err != nil {
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return fmt.Errorf("enqueue event %d: %w", ev.EventID, err)
		}
		return fmt.Errorf("enqueue event %d: %w", ev.EventID, ErrCapacityExhausted)
	}
	return nil
}

func (d *Dispatcher) putWithin(ctx context.Context, ev event.Event, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := d.queue.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, memory.ErrQueueClosed) {
			return ErrClosed
		}
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (d *Dispatcher) markDequeued(n int) {
	d.drainMu.Lock()
	d.outstanding += int64(n)
	d.drainMu.Unlock()
	d.updateStats(func(s *Stats) { s.Dequeued += int64(n) })
	d.observer.QueueDepth(d.queue.Len())
}

// finishLocked retires n unfinished events and wakes AwaitDrain callers once
// none remain. Callers hold drainMu.
func (d *Dispatcher) finishLocked(n int64) {
	d.unfinished -= n
	if d.unfinished == 0 {
		close(d.drained)
		d.drained = make(chan struct{})
	}
}

func (d *Dispatcher) recordRejected(n int) {
	if n <= 0 {
		return
	}
	d.updateStats(func(s *Stats) { s.Rejected += int64(n) })
	d.observer.EventsRejected(n)
}
