// Package producer generates synthetic banking events and hands them to a
// dispatcher in send batches, under either delivery model.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/dispatcher"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/policy/ratelimit"
)

// Model selects how produced batches reach consumers.
type Model string

// Supported delivery models.
const (
	ModelPull Model = "pull"
	ModelPush Model = "push"
)

// ErrAlreadyRun is returned when Run is called twice on one Producer.
var ErrAlreadyRun = errors.New("producer already run")

// Transport is the slice of the dispatcher a producer needs.
type Transport interface {
	EnqueueBatch(ctx context.Context, evs []event.Event, block bool) error
	PushBatch(ctx context.Context, evs []event.Event)
}

// Observer receives production metrics.
type Observer interface {
	EventsProduced(model string, n int)
	RateLimitDelay(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) EventsProduced(string, int)  {}
func (nopObserver) RateLimitDelay(time.Duration) {}

// Config controls a production run.
type Config struct {
	NumEvents int
	BatchSize int
	Model     Model
	// RateLimit is events per second; zero disables pacing.
	RateLimit float64
	Burst     int
	Logger    *zap.Logger
	Observer  Observer
}

// Stats summarises a run.
type Stats struct {
	Produced int64         `json:"produced"`
	Duration time.Duration `json:"duration"`
	Rate     float64       `json:"rate"`
}

// Producer emits NumEvents events with ids 0..NumEvents-1.
type Producer struct {
	transport Transport
	factory   event.Factory
	cfg       Config
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
	observer  Observer

	mu       sync.Mutex
	ran      bool
	produced int64
	start    time.Time
	end      time.Time
}

// New validates cfg and returns a Producer.
func New(t Transport, f event.Factory, cfg Config) (*Producer, error) {
	if t == nil || f == nil {
		return nil, fmt.Errorf("producer requires a transport and factory")
	}
	if cfg.NumEvents < 0 {
		return nil, fmt.Errorf("num events must be >= 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.Model != ModelPull && cfg.Model != ModelPush {
		return nil, fmt.Errorf("unknown delivery model %q", cfg.Model)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Producer{
		transport: t,
		factory:   f,
		cfg:       cfg,
		limiter: ratelimit.New(ratelimit.Config{
			EventsPerSecond: cfg.RateLimit,
			Burst:           cfg.Burst,
			OnDelay:         observer.RateLimitDelay,
		}),
		logger:   logger.Named("producer").With(zap.String("model", string(cfg.Model))),
		observer: observer,
	}, nil
}

// Run produces every event and returns once the last batch has been handed
// off. A capacity error from the dispatcher aborts the run and is returned.
func (p *Producer) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.ran {
		p.mu.Unlock()
		return ErrAlreadyRun
	}
	p.ran = true
	p.start = time.Now()
	p.mu.Unlock()
	defer p.finish()

	p.logger.Info("producing events",
		zap.Int("num_events", p.cfg.NumEvents),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	batch := make([]event.Event, 0, p.cfg.BatchSize)
	for id := 0; id < p.cfg.NumEvents; id++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("produce: %w", err)
		}
		batch = append(batch, p.factory.Generate(int64(id)))
		if len(batch) == p.cfg.BatchSize {
			if err := p.send(ctx, batch); err != nil {
				return err
			}
			batch = make([]event.Event, 0, p.cfg.BatchSize)
		}
	}
	if len(batch) > 0 {
		if err := p.send(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) send(ctx context.Context, batch []event.Event) error {
	if err := p.limiter.Wait(ctx, len(batch)); err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	if p.cfg.Model == ModelPush {
		p.transport.PushBatch(ctx, batch)
		p.record(len(batch))
		return nil
	}

	err := p.transport.EnqueueBatch(ctx, batch, false)
	if err == nil {
		p.record(len(batch))
		return nil
	}
	var batchErr *dispatcher.BatchError
	if errors.As(err, &batchErr) {
		p.record(batchErr.Accepted())
	}
	p.logger.Error("enqueue batch failed, aborting run",
		zap.Int64("first_event_id", batch[0].EventID),
		zap.Int("batch_size", len(batch)),
		zap.Error(err),
	)
	return fmt.Errorf("produce: %w", err)
}

func (p *Producer) record(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	p.produced += int64(n)
	p.mu.Unlock()
	p.observer.EventsProduced(string(p.cfg.Model), n)
}

func (p *Producer) finish() {
	p.mu.Lock()
	p.end = time.Now()
	produced, took := p.produced, p.end.Sub(p.start)
	p.mu.Unlock()
	p.logger.Info("production finished",
		zap.Int64("produced", produced),
		zap.Duration("duration", took),
	)
}

// Stats returns the events handed off so far and, once Run has returned, the
// run's duration and throughput. Rate is zero when no time has elapsed.
func (p *Producer) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Produced: p.produced}
	switch {
	case p.start.IsZero():
	case p.end.IsZero():
		s.Duration = time.Since(p.start)
	default:
		s.Duration = p.end.Sub(p.start)
	}
	if s.Duration > 0 {
		s.Rate = float64(s.Produced) / s.Duration.Seconds()
	}
	return s
}
