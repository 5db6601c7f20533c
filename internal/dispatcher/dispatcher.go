// Package dispatcher moves events from producers to consumers under two
// delivery models: PULL, where consumers drain a FIFO queue, and PUSH, where
// the dispatcher invokes registered callbacks.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/queue/memory"
)

// ErrCapacityExhausted is returned when the queue stayed full through the
// blocking fallback attempt.
var ErrCapacityExhausted = errors.New("dispatcher queue capacity exhausted")

// ErrClosed is returned by the enqueue operations after Close.
var ErrClosed = errors.New("dispatcher closed")

// Config controls queueing and callback execution for the Dispatcher.
//   - QueueCapacity: PULL queue bound; zero or less means unbounded.
//   - FallbackTimeout: budget for the single blocking retry after the queue
//     is found full (default 1s).
//   - AsyncWorkers: number of goroutines running PUSH callbacks; zero runs
//     callbacks on the pushing goroutine.
//   - AsyncQueueDepth: pending callback tasks accepted before Push blocks
//     (default AsyncWorkers*64).
//   - Logger: optional structured logger.
//   - Observer: optional metrics hook.
type Config struct {
	QueueCapacity   int
	FallbackTimeout time.Duration
	AsyncWorkers    int
	AsyncQueueDepth int
	Logger          *zap.Logger
	Observer        Observer
}

const (
	defaultFallbackTimeout = time.Second
	defaultTasksPerWorker  = 64
)

// Stats is a point-in-time snapshot of the dispatcher counters. Every counter
// only ever grows.
type Stats struct {
	Received         int64 `json:"received"`
	Queued           int64 `json:"queued"`
	Pushed           int64 `json:"pushed"`
	Dequeued         int64 `json:"dequeued"`
	Acknowledged     int64 `json:"acknowledged"`
	Rejected         int64 `json:"rejected"`
	CallbackFailures int64 `json:"callback_failures"`
	QueueLen         int   `json:"queue_len"`
	QueueCapacity    int   `json:"queue_capacity"`
	AsyncBacklog     int   `json:"async_backlog"`
}

// Dispatcher is safe for concurrent use by any number of producers and
// consumers.
type Dispatcher struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	queue    *memory.Queue[event.Event]
	pool     *workerPool

	regMu          sync.RWMutex
	nextID         CallbackID
	callbacks      []eventEntry
	batchCallbacks []batchEntry

	statsMu sync.Mutex
	stats   Stats

	// unfinished counts events accepted into the queue and not yet
	// acknowledged; outstanding counts those already handed to a consumer.
	drainMu     sync.Mutex
	unfinished  int64
	outstanding int64
	drained     chan struct{}

	stopped atomic.Bool
}

// New constructs a Dispatcher and starts its callback workers when
// AsyncWorkers is positive.
func New(cfg Config) *Dispatcher {
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaultFallbackTimeout
	}
	if cfg.AsyncWorkers < 0 {
		cfg.AsyncWorkers = 0
	}
	if cfg.AsyncWorkers > 0 && cfg.AsyncQueueDepth <= 0 {
		cfg.AsyncQueueDepth = cfg.AsyncWorkers * defaultTasksPerWorker
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
		observer: observer,
		queue:    memory.NewQueue[event.Event](cfg.QueueCapacity),
		drained:  make(chan struct{}),
	}
	if cfg.AsyncWorkers > 0 {
		d.pool = newWorkerPool(cfg.AsyncWorkers, cfg.AsyncQueueDepth)
	}
	return d
}

// Stop marks the dispatcher as stopped. It is advisory: ingress keeps working
// and consumers use it to decide when to wind down.
func (d *Dispatcher) Stop() {
	if d.stopped.CompareAndSwap(false, true) {
		d.logger.Info("dispatcher stop requested", zap.Int("queue_len", d.queue.Len()))
	}
}

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool {
	return d.stopped.Load()
}

// Stats returns a consistent snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	s := d.stats
	d.statsMu.Unlock()
	s.QueueLen = d.queue.Len()
	s.QueueCapacity = d.queue.Cap()
	if d.pool != nil {
		s.AsyncBacklog = d.pool.QueueLen()
	}
	return s
}

// WaitIdle blocks until every callback task submitted to the async workers
// has finished. Without workers it returns immediately.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	if d.pool == nil {
		return nil
	}
	return d.pool.WaitIdle(ctx)
}

// Close shuts the PULL queue and stops the async workers once pending
// callback tasks finish. Events already queued stay dequeueable; enqueues
// fail with ErrClosed and idle Dequeue calls return at once. Pushes after
// Close run their callbacks on the calling goroutine.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.queue.Close()
	if d.pool == nil {
		return nil
	}
	return d.pool.Close(ctx)
}

func (d *Dispatcher) updateStats(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}
