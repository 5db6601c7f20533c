// Package memory provides an in-process Sink for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

// Sink keeps events in a map keyed by transaction id.
type Sink struct {
	mu     sync.RWMutex
	byTxn  map[string]event.Event
	order  []string
	closed bool
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{byTxn: make(map[string]event.Event)}
}

// Initialize discards everything stored so far.
func (s *Sink) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	s.byTxn = make(map[string]event.Event)
	s.order = nil
	return nil
}

// StoreBatch inserts events whose transaction id is not yet present.
func (s *Sink) StoreBatch(_ context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	for _, ev := range batch {
		if _, ok := s.byTxn[ev.TransactionID]; ok {
			continue
		}
		s.byTxn[ev.TransactionID] = ev
		s.order = append(s.order, ev.TransactionID)
	}
	return nil
}

// Count returns the number of distinct stored events.
func (s *Sink) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byTxn)), nil
}

// Events returns the stored events in first-insert order.
func (s *Sink) Events() []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Event, len(s.order))
	for i, id := range s.order {
		out[i] = s.byTxn[id]
	}
	return out
}

// Close marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
