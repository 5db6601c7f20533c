package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/metrics"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

var (
	_ sink.Sink = (*recordingSink)(nil)
	_ Observer  = (*metrics.Recorder)(nil)
)

var errDiskFull = errors.New("disk full")

// recordingSink keeps a copy of every batch it is handed. Calls listed in
// failCalls (1-based) fail without storing.
type recordingSink struct {
	mu        sync.Mutex
	calls     int
	batches   [][]event.Event
	failCalls map[int]bool
}

func (s *recordingSink) Initialize(context.Context) error { return nil }

func (s *recordingSink) StoreBatch(_ context.Context, batch []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failCalls[s.calls] {
		return errDiskFull
	}
	s.batches = append(s.batches, append([]event.Event(nil), batch...))
	return nil
}

func (s *recordingSink) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, b := range s.batches {
		n += int64(len(b))
	}
	return n, nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.batches))
	for i, b := range s.batches {
		out[i] = len(b)
	}
	return out
}

func (s *recordingSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, b := range s.batches {
		out = append(out, event.IDs(b)...)
	}
	return out
}

type flushLog struct {
	mu      sync.Mutex
	models  []string
	sizes   []int
	failure int
}

func (f *flushLog) BatchFlushed(model string, size int, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = append(f.models, model)
	f.sizes = append(f.sizes, size)
	if err != nil {
		f.failure++
	}
}

func bankEvent(id int64) event.Event {
	return event.Event{
		EventID:       id,
		EventType:     event.TypeDeposit,
		AccountID:     event.AccountIDFor(1),
		Amount:        10,
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		TransactionID: event.TransactionIDFor(id),
	}
}

func bankEvents(n int) []event.Event {
	out := make([]event.Event, n)
	for i := range out {
		out[i] = bankEvent(int64(i))
	}
	return out
}

func sequence(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}
