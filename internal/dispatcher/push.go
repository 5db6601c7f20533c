package dispatcher

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
)

// EventCallback receives one pushed event.
type EventCallback func(ctx context.Context, ev event.Event) error

// BatchCallback receives a pushed batch. Callbacks must treat the slice as
// read-only; it is shared with every other batch callback.
type BatchCallback func(ctx context.Context, batch []event.Event) error

// CallbackID identifies a registration. The zero value is never issued.
type CallbackID uint64

type eventEntry struct {
	id CallbackID
	fn EventCallback
}

type batchEntry struct {
	id CallbackID
	fn BatchCallback
}

// RegisterCallback adds a per-event callback. It is safe to call from inside a
// running callback; the new callback sees only later pushes.
func (d *Dispatcher) RegisterCallback(cb EventCallback) CallbackID {
	if cb == nil {
		d.logger.Warn("ignoring nil event callback")
		return 0
	}
	d.regMu.Lock()
	d.nextID++
	id := d.nextID
	// Copy on write so snapshots taken by in-flight pushes stay untouched.
	d.callbacks = append(slices.Clip(d.callbacks), eventEntry{id: id, fn: cb})
	total := len(d.callbacks)
	d.regMu.Unlock()

	d.logger.Debug("event callback registered", zap.Uint64("callback_id", uint64(id)), zap.Int("total", total))
	return id
}

// UnregisterCallback removes a per-event callback. Unknown ids are ignored;
// the result reports whether anything was removed.
func (d *Dispatcher) UnregisterCallback(id CallbackID) bool {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	idx := slices.IndexFunc(d.callbacks, func(e eventEntry) bool { return e.id == id })
	if idx < 0 {
		return false
	}
	d.callbacks = slices.Delete(slices.Clone(d.callbacks), idx, idx+1)
	return true
}

// RegisterBatchCallback adds a batch callback.
func (d *Dispatcher) RegisterBatchCallback(cb BatchCallback) CallbackID {
	if cb == nil {
		d.logger.Warn("ignoring nil batch callback")
		return 0
	}
	d.regMu.Lock()
	d.nextID++
	id := d.nextID
	d.batchCallbacks = append(slices.Clip(d.batchCallbacks), batchEntry{id: id, fn: cb})
	total := len(d.batchCallbacks)
	d.regMu.Unlock()

	d.logger.Debug("batch callback registered", zap.Uint64("callback_id", uint64(id)), zap.Int("total", total))
	return id
}

// UnregisterBatchCallback removes a batch callback. Unknown ids are ignored.
func (d *Dispatcher) UnregisterBatchCallback(id CallbackID) bool {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	idx := slices.IndexFunc(d.batchCallbacks, func(e batchEntry) bool { return e.id == id })
	if idx < 0 {
		return false
	}
	d.batchCallbacks = slices.Delete(slices.Clone(d.batchCallbacks), idx, idx+1)
	return true
}

// Push delivers ev to every registered callback: batch callbacks first, each
// with a one-element batch, then per-event callbacks in registration order.
func (d *Dispatcher) Push(ctx context.Context, ev event.Event) {
	callbacks, batchCallbacks := d.snapshot()
	if len(batchCallbacks) > 0 {
		single := []event.Event{ev}
		for _, entry := range batchCallbacks {
			d.dispatchBatch(ctx, entry, single)
		}
	}
	for _, entry := range callbacks {
		d.dispatchEvent(ctx, entry, ev)
	}
	d.recordPushed(1)
}

// PushBatch delivers the whole batch to each batch callback and every event
// individually to each per-event callback. An empty batch is a no-op.
func (d *Dispatcher) PushBatch(ctx context.Context, evs []event.Event) {
	if len(evs) == 0 {
		return
	}
	batch := slices.Clone(evs)
	callbacks, batchCallbacks := d.snapshot()
	for _, entry := range batchCallbacks {
		d.dispatchBatch(ctx, entry, batch)
	}
	for _, ev := range batch {
		for _, entry := range callbacks {
			d.dispatchEvent(ctx, entry, ev)
		}
	}
	d.recordPushed(len(batch))
}

// CallbackCount returns the number of registered per-event and batch callbacks.
func (d *Dispatcher) CallbackCount() (perEvent, batch int) {
	d.regMu.RLock()
	defer d.regMu.RUnlock()
	return len(d.callbacks), len(d.batchCallbacks)
}

func (d *Dispatcher) snapshot() ([]eventEntry, []batchEntry) {
	d.regMu.RLock()
	defer d.regMu.RUnlock()
	return d.callbacks, d.batchCallbacks
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, entry eventEntry, ev event.Event) {
	if d.pool == nil {
		d.invokeEvent(ctx, entry, ev)
		return
	}
	taskCtx := context.WithoutCancel(ctx)
	task := func() { d.invokeEvent(taskCtx, entry, ev) }
	if !d.pool.Submit(ctx, task) {
		task()
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, entry batchEntry, batch []event.Event) {
	if d.pool == nil {
		d.invokeBatch(ctx, entry, batch)
		return
	}
	taskCtx := context.WithoutCancel(ctx)
	task := func() { d.invokeBatch(taskCtx, entry, batch) }
	if !d.pool.Submit(ctx, task) {
		task()
	}
}

func (d *Dispatcher) invokeEvent(ctx context.Context, entry eventEntry, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.callbackFailed("event", entry.id, fmt.Errorf("callback panic: %v", r), zap.Int64("event_id", ev.EventID))
		}
	}()
	if err := entry.fn(ctx, ev); err != nil {
		d.callbackFailed("event", entry.id, err, zap.Int64("event_id", ev.EventID))
	}
}

func (d *Dispatcher) invokeBatch(ctx context.Context, entry batchEntry, batch []event.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.callbackFailed("batch", entry.id, fmt.Errorf("callback panic: %v", r), zap.Int("batch_size", len(batch)))
		}
	}()
	if err := entry.fn(ctx, batch); err != nil {
		d.callbackFailed("batch", entry.id, err, zap.Int("batch_size", len(batch)))
	}
}

func (d *Dispatcher) callbackFailed(kind string, id CallbackID, err error, field zap.Field) {
	d.logger.Error("callback failed",
		zap.String("kind", kind),
		zap.Uint64("callback_id", uint64(id)),
		field,
		zap.Error(err),
	)
	d.updateStats(func(s *Stats) { s.CallbackFailures++ })
	d.observer.CallbackFailed(kind)
}

func (d *Dispatcher) recordPushed(n int) {
	d.updateStats(func(s *Stats) {
		s.Received += int64(n)
		s.Pushed += int64(n)
	})
	d.observer.EventsPushed(n)
}
