// Package memory provides the in-process FIFO queue backing the pull path.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and empty,
// and by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a FIFO queue with context-aware blocking operations. A capacity of
// zero or less makes it unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	capacity int
	closed   bool
	// changed is closed and replaced whenever items are added or removed so
	// waiters can re-check their condition.
	changed chan struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

// TryEnqueue appends item if there is room, without blocking.
func (q *Queue[T]) TryEnqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.fullLocked() {
		return false
	}
	q.pushLocked(item)
	return true
}

// Enqueue appends item, waiting for room until the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if !q.fullLocked() {
			q.pushLocked(item)
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("enqueue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// TryDequeue removes the head item if one is available, without blocking.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lenLocked() == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Dequeue removes the head item, waiting until one arrives or the context ends.
// Items enqueued before Close remain available.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.lenLocked() > 0 {
			item := q.popLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrQueueClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

// Cap returns the configured capacity; zero means unbounded.
func (q *Queue[T]) Cap() int {
	if q.capacity < 0 {
		return 0
	}
	return q.capacity
}

// Close rejects further enqueues and wakes every waiter. Safe to call twice.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

func (q *Queue[T]) fullLocked() bool {
	return q.capacity > 0 && q.lenLocked() >= q.capacity
}

func (q *Queue[T]) lenLocked() int {
	return len(q.items) - q.head
}

func (q *Queue[T]) pushLocked(item T) {
	q.items = append(q.items, item)
	q.signalLocked()
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.signalLocked()
	return item
}

func (q *Queue[T]) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
