// Package sink defines the durable destination for consumed event batches
// and helpers shared by its backends.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/event-dispatch/internal/clock/system"
	"github.com/JakeFAU/event-dispatch/internal/event"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("sink closed")

// Sink persists batches of events.
//   - Initialize prepares storage and may be called again to reset it.
//   - StoreBatch inserts every event; an event whose transaction id is
//     already stored is silently ignored. An empty batch is a no-op.
//   - Count reports the number of stored events.
type Sink interface {
	Initialize(ctx context.Context) error
	StoreBatch(ctx context.Context, batch []event.Event) error
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Clock supplies the processed-at timestamp recorded with each row.
type Clock interface {
	Now() time.Time
}

// Payload encodes the full event as the JSON document stored alongside the
// flattened columns.
func Payload(ev event.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %d: %w", ev.EventID, err)
	}
	return data, nil
}

// TransactionIDs returns the natural keys of a batch in order.
func TransactionIDs(batch []event.Event) []string {
	out := make([]string, len(batch))
	for i, ev := range batch {
		out[i] = ev.TransactionID
	}
	return out
}

// Nullable unwraps an optional metadata value into a driver argument: nil
// for an absent value, the string otherwise.
func Nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// DefaultClock returns c, or a UTC wall clock when c is nil.
func DefaultClock(c Clock) Clock {
	if c == nil {
		return system.New()
	}
	return c
}
