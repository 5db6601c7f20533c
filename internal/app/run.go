package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/config"
	"github.com/JakeFAU/event-dispatch/internal/consumer"
	"github.com/JakeFAU/event-dispatch/internal/dispatcher"
	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/producer"
	"github.com/JakeFAU/event-dispatch/internal/sink"
	"github.com/JakeFAU/event-dispatch/internal/sink/archive"
)

// ErrClosed is returned when a run is requested after Close.
var ErrClosed = errors.New("app closed")

// RunPull produces into the dispatcher queue while a pull consumer drains it
// into a fresh sink, then waits for the queue to drain.
func (a *App) RunPull(ctx context.Context) (Report, error) {
	rep, stack, err := a.prepare(ctx, config.ModelPull)
	if err != nil {
		return rep, err
	}
	defer stack.close(a.logger)

	d := dispatcher.New(dispatcher.Config{
		QueueCapacity:   a.cfg.Dispatcher.QueueCapacity,
		FallbackTimeout: a.cfg.Dispatcher.FallbackTimeout,
		Logger:          stack.logger,
		Observer:        a.dispatcherObserver(),
	})
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("dispatcher close failed", zap.Error(err))
		}
	}()
	p, err := a.newProducer(d, producer.ModelPull, stack.logger)
	if err != nil {
		return a.finish(rep, err)
	}
	c, err := consumer.NewPull(d, stack.sink, consumer.PullConfig{
		BatchSize:    a.cfg.ConsumerBatchSize(),
		PollTimeout:  a.cfg.Consumer.PollTimeout,
		FlushTimeout: a.cfg.Consumer.FlushTimeout,
		OnSinkError:  consumer.SinkErrorPolicy(a.cfg.Consumer.OnSinkError),
		Logger:       stack.logger,
		Observer:     a.consumerObserver(),
	})
	if err != nil {
		return a.finish(rep, err)
	}
	a.setCurrent(&liveRun{
		runID:      rep.RunID,
		model:      rep.Model,
		startedAt:  rep.StartedAt,
		dispatcher: d,
		producer:   p,
		consumer:   c.Stats,
		state:      func() string { return c.State().String() },
	})

	// An aborted consumer cancels the producer so it does not sit out the
	// enqueue fallbacks against a queue nobody drains.
	prodCtx, cancelProd := context.WithCancel(ctx)
	defer cancelProd()
	consumed := make(chan error, 1)
	go func() {
		err := c.Run(ctx)
		if err != nil {
			cancelProd()
		}
		consumed <- err
	}()

	prodErr := p.Run(prodCtx)
	d.Stop()
	c.Stop()
	consErr := <-consumed
	if consErr != nil && ctx.Err() == nil && errors.Is(prodErr, context.Canceled) {
		prodErr = nil
	}
	if prodErr == nil && consErr == nil {
		if err := d.AwaitDrain(ctx); err != nil {
			consErr = err
		}
	}

	cs := c.Stats()
	rep = a.complete(ctx, rep, stack, d, p.Stats(), cs)
	return a.finish(rep, errors.Join(prodErr, consErr))
}

// RunPush pushes every event through the dispatcher's callbacks into a push
// consumer, optionally on the async pool, then flushes the final batch.
func (a *App) RunPush(ctx context.Context) (Report, error) {
	rep, stack, err := a.prepare(ctx, config.ModelPush)
	if err != nil {
		return rep, err
	}
	defer stack.close(a.logger)

	d := dispatcher.New(dispatcher.Config{
		FallbackTimeout: a.cfg.Dispatcher.FallbackTimeout,
		AsyncWorkers:    a.cfg.Dispatcher.AsyncWorkers,
		AsyncQueueDepth: a.cfg.Dispatcher.AsyncQueueDepth,
		Logger:          stack.logger,
		Observer:        a.dispatcherObserver(),
	})
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("dispatcher close failed", zap.Error(err))
		}
	}()

	p, err := a.newProducer(d, producer.ModelPush, stack.logger)
	if err != nil {
		return a.finish(rep, err)
	}
	c, err := consumer.NewPush(d, stack.sink, consumer.PushConfig{
		BatchSize: a.cfg.ConsumerBatchSize(),
		Logger:    stack.logger,
		Observer:  a.consumerObserver(),
	})
	if err != nil {
		return a.finish(rep, err)
	}
	if err := c.Start(); err != nil {
		return a.finish(rep, err)
	}
	a.setCurrent(&liveRun{
		runID:      rep.RunID,
		model:      rep.Model,
		startedAt:  rep.StartedAt,
		dispatcher: d,
		producer:   p,
		consumer:   c.Stats,
	})

	prodErr := p.Run(ctx)
	idleErr := d.WaitIdle(ctx)
	d.Stop()

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Consumer.FlushTimeout)
	defer cancel()
	finErr := c.Finish(finishCtx)

	rep = a.complete(ctx, rep, stack, d, p.Stats(), c.Stats())
	return a.finish(rep, errors.Join(prodErr, idleErr, finErr))
}

// runStack is the per-run sink chain.
type runStack struct {
	sink    sink.Sink
	archive *archive.Sink
	logger  *zap.Logger
}

func (s runStack) close(logger *zap.Logger) {
	if err := s.sink.Close(); err != nil {
		logger.Warn("sink close failed", zap.Error(err))
	}
}

func (a *App) prepare(ctx context.Context, model string) (Report, runStack, error) {
	rep := Report{Model: model, StartedAt: a.clock.Now()}
	if !a.Ready() {
		return rep, runStack{}, ErrClosed
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return rep, runStack{}, fmt.Errorf("run id: %w", err)
	}
	rep.RunID = runID
	logger := a.logger.With(zap.String("run_id", runID), zap.String("model", model))
	logger.Info("run starting", zap.Int("num_events", a.cfg.Run.NumEvents))

	s, arch, err := a.openSink(ctx, runID, model)
	if err != nil {
		rep, err = a.finish(rep, err)
		return rep, runStack{}, err
	}
	return rep, runStack{sink: s, archive: arch, logger: logger}, nil
}

func (a *App) newProducer(d *dispatcher.Dispatcher, model producer.Model, logger *zap.Logger) (*producer.Producer, error) {
	factory := event.NewRandomFactory(event.FactoryConfig{
		Seed:     a.cfg.Run.Seed,
		Accounts: a.cfg.Run.Accounts,
		Clock:    a.clock,
	})
	p, err := producer.New(d, factory, producer.Config{
		NumEvents: a.cfg.Run.NumEvents,
		BatchSize: a.cfg.ProducerBatchSize(),
		Model:     model,
		RateLimit: a.cfg.Producer.RateLimit,
		Burst:     a.cfg.Producer.Burst,
		Logger:    logger,
		Observer:  a.producerObserver(),
	})
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return p, nil
}

func (a *App) complete(
	ctx context.Context,
	rep Report,
	stack runStack,
	d *dispatcher.Dispatcher,
	ps producer.Stats,
	cs consumer.Stats,
) Report {
	rep.Produced = ps.Produced
	rep.ProducerDuration = ps.Duration
	rep.ProducerRate = ps.Rate
	rep.Processed = cs.Processed
	rep.Batches = cs.Batches
	rep.FailedBatches = cs.FailedBatches
	rep.ConsumerDuration = cs.Duration
	rep.ConsumerRate = cs.Rate
	rep.Dispatcher = d.Stats()
	if stack.archive != nil {
		rep.ArchivedObjects = len(stack.archive.URIs())
	}
	stored, err := stack.sink.Count(context.WithoutCancel(ctx))
	if err != nil {
		stack.logger.Warn("stored count unavailable", zap.Error(err))
	}
	rep.Stored = stored
	return rep
}

func (a *App) finish(rep Report, err error) (Report, error) {
	rep.FinishedAt = a.clock.Now()
	if err != nil {
		rep.Error = err.Error()
		a.logger.Error("run failed",
			zap.String("run_id", rep.RunID),
			zap.String("model", rep.Model),
			zap.Error(err),
		)
		err = fmt.Errorf("%s run: %w", rep.Model, err)
	} else {
		a.logger.Info("run finished",
			zap.String("run_id", rep.RunID),
			zap.String("model", rep.Model),
			zap.Int64("stored", rep.Stored),
			zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
	}
	a.finishRun(rep)
	return rep, err
}

func (a *App) dispatcherObserver() dispatcher.Observer {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

func (a *App) producerObserver() producer.Observer {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}

func (a *App) consumerObserver() consumer.Observer {
	if a.metrics == nil {
		return nil
	}
	return a.metrics
}
