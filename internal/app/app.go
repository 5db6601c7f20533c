// Package app wires the dispatcher, producer, consumers and sinks into
// complete PULL and PUSH runs and keeps their reports.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/clock/system"
	"github.com/JakeFAU/event-dispatch/internal/config"
	"github.com/JakeFAU/event-dispatch/internal/consumer"
	"github.com/JakeFAU/event-dispatch/internal/dispatcher"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/id/uuid"
	"github.com/JakeFAU/event-dispatch/internal/metrics"
	"github.com/JakeFAU/event-dispatch/internal/producer"
	"github.com/JakeFAU/event-dispatch/internal/sink/archive"
	"github.com/JakeFAU/event-dispatch/internal/sink/notify"
)

const defaultFlushTimeout = 10 * time.Second

// IDGenerator issues run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators an App needs. Zero values are replaced with
// the production implementations selected by the config.
type Deps struct {
	Logger    *zap.Logger
	Metrics   *metrics.Recorder
	IDs       IDGenerator
	Clock     event.Clock
	Sinks     SinkFactory
	BlobStore archive.BlobStore
	Publisher notify.Publisher
}

// Report summarises one completed run.
type Report struct {
	RunID            string           `json:"run_id"`
	Model            string           `json:"model"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
	Produced         int64            `json:"produced"`
	Processed        int64            `json:"processed"`
	Stored           int64            `json:"stored"`
	Batches          int64            `json:"batches"`
	FailedBatches    int64            `json:"failed_batches"`
	ProducerDuration time.Duration    `json:"producer_duration"`
	ConsumerDuration time.Duration    `json:"consumer_duration"`
	ProducerRate     float64          `json:"producer_rate"`
	ConsumerRate     float64          `json:"consumer_rate"`
	ArchivedObjects  int              `json:"archived_objects"`
	Dispatcher       dispatcher.Stats `json:"dispatcher"`
	Error            string           `json:"error,omitempty"`
}

// Snapshot is the live view of the run in progress.
type Snapshot struct {
	RunID         string           `json:"run_id"`
	Model         string           `json:"model"`
	StartedAt     time.Time        `json:"started_at"`
	Dispatcher    dispatcher.Stats `json:"dispatcher"`
	Producer      producer.Stats   `json:"producer"`
	Consumer      consumer.Stats   `json:"consumer"`
	ConsumerState string           `json:"consumer_state,omitempty"`
}

// App runs the configured delivery models. It is safe to query Reports and
// Current while a run is in progress.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Recorder
	ids       IDGenerator
	clock     event.Clock
	sinks     SinkFactory
	blobs     archive.BlobStore
	publisher notify.Publisher
	closers   []io.Closer

	mu      sync.RWMutex
	reports []Report
	current *liveRun
	closed  bool
}

type liveRun struct {
	runID      string
	model      string
	startedAt  time.Time
	dispatcher *dispatcher.Dispatcher
	producer   *producer.Producer
	consumer   func() consumer.Stats
	state      func() string
}

// New builds an App. Archive and notify backends are opened here, so New
// may dial cloud services when the config asks for them.
func New(ctx context.Context, cfg config.Config, deps Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Consumer.FlushTimeout <= 0 {
		cfg.Consumer.FlushTimeout = defaultFlushTimeout
	}
	a := &App{
		cfg:       cfg,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		ids:       deps.IDs,
		clock:     deps.Clock,
		sinks:     deps.Sinks,
		blobs:     deps.BlobStore,
		publisher: deps.Publisher,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	a.logger = a.logger.Named("app")
	if a.ids == nil {
		a.ids = uuid.New()
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.sinks == nil {
		a.sinks = NewSinkFactory(cfg.Sink, a.clock)
	}
	if cfg.Archive.Enabled && a.blobs == nil {
		store, err := openBlobStore(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		a.blobs = store
		a.track(store)
	}
	if cfg.Notify.Enabled && a.publisher == nil {
		pub, err := openPublisher(ctx, cfg.Notify)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.publisher = pub
		a.track(pub)
	}
	return a, nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// Run executes every configured model in order and logs a comparison. It
// stops at the first failed run and returns the reports gathered so far.
func (a *App) Run(ctx context.Context) ([]Report, error) {
	var reports []Report
	for _, model := range a.cfg.Models() {
		var (
			rep Report
			err error
		)
		switch model {
		case config.ModelPull:
			rep, err = a.RunPull(ctx)
		case config.ModelPush:
			rep, err = a.RunPush(ctx)
		}
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	a.logSummary(reports)
	return reports, nil
}

// Reports returns completed runs, oldest first.
func (a *App) Reports() []Report {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Report(nil), a.reports...)
}

// Current returns the run in progress, if any.
func (a *App) Current() (Snapshot, bool) {
	a.mu.RLock()
	run := a.current
	a.mu.RUnlock()
	if run == nil {
		return Snapshot{}, false
	}
	snap := Snapshot{
		RunID:      run.runID,
		Model:      run.model,
		StartedAt:  run.startedAt,
		Dispatcher: run.dispatcher.Stats(),
		Producer:   run.producer.Stats(),
		Consumer:   run.consumer(),
	}
	if run.state != nil {
		snap.ConsumerState = run.state()
	}
	return snap, true
}

// Ready reports whether the App still accepts runs.
func (a *App) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed
}

// Close releases backends opened by New.
func (a *App) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) setCurrent(run *liveRun) {
	a.mu.Lock()
	a.current = run
	a.mu.Unlock()
}

func (a *App) finishRun(rep Report) {
	a.mu.Lock()
	a.current = nil
	a.reports = append(a.reports, rep)
	a.mu.Unlock()
}

func (a *App) logSummary(reports []Report) {
	for _, rep := range reports {
		a.logger.Info("run summary",
			zap.String("model", rep.Model),
			zap.String("run_id", rep.RunID),
			zap.Int64("produced", rep.Produced),
			zap.Int64("processed", rep.Processed),
			zap.Int64("stored", rep.Stored),
			zap.Duration("producer_duration", rep.ProducerDuration),
			zap.Duration("consumer_duration", rep.ConsumerDuration),
			zap.Float64("producer_rate", rep.ProducerRate),
			zap.Float64("consumer_rate", rep.ConsumerRate),
		)
	}
	if len(reports) == 2 && reports[0].ConsumerRate > 0 {
		a.logger.Info("model comparison",
			zap.Float64("push_to_pull_throughput", reports[1].ConsumerRate/reports[0].ConsumerRate),
		)
	}
}
