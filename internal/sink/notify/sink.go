// Package notify decorates a Sink so each stored batch announces itself on a
// message topic.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

// Publisher sends a payload to a topic and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FlushNotice describes one stored batch.
type FlushNotice struct {
	RunID        string    `json:"run_id"`
	Model        string    `json:"model"`
	Size         int       `json:"size"`
	FirstEventID int64     `json:"first_event_id"`
	LastEventID  int64     `json:"last_event_id"`
	StoredAt     time.Time `json:"stored_at"`
}

// Config names the topic and tags each notice.
type Config struct {
	Topic  string
	RunID  string
	Model  string
	Clock  sink.Clock
	Logger *zap.Logger
}

// Sink stores through the wrapped sink and then publishes a FlushNotice.
// Publish failures are logged, never returned, so notification problems do
// not fail the consumer.
type Sink struct {
	next      sink.Sink
	publisher Publisher
	cfg       Config
	clock     sink.Clock
	logger    *zap.Logger
}

// New wraps next.
func New(next sink.Sink, publisher Publisher, cfg Config) (*Sink, error) {
	if next == nil || publisher == nil {
		return nil, fmt.Errorf("notify sink requires a sink and publisher")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("notify topic is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		next:      next,
		publisher: publisher,
		cfg:       cfg,
		clock:     sink.DefaultClock(cfg.Clock),
		logger:    logger.Named("notify"),
	}, nil
}

// Initialize initializes the wrapped sink.
func (s *Sink) Initialize(ctx context.Context) error {
	return s.next.Initialize(ctx) //nolint:wrapcheck // delegate
}

// StoreBatch stores the batch and publishes a notice for it.
func (s *Sink) StoreBatch(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.next.StoreBatch(ctx, batch); err != nil {
		return err //nolint:wrapcheck // pass the backend error through untouched
	}
	notice := FlushNotice{
		RunID:        s.cfg.RunID,
		Model:        s.cfg.Model,
		Size:         len(batch),
		FirstEventID: batch[0].EventID,
		LastEventID:  batch[len(batch)-1].EventID,
		StoredAt:     s.clock.Now(),
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, notice)
	if err != nil {
		s.logger.Warn("publish flush notice failed",
			zap.String("topic", s.cfg.Topic),
			zap.Int("size", notice.Size),
			zap.Error(err),
		)
		return nil
	}
	s.logger.Debug("flush notice published", zap.String("message_id", id), zap.Int("size", notice.Size))
	return nil
}

// Count delegates to the wrapped sink.
func (s *Sink) Count(ctx context.Context) (int64, error) {
	return s.next.Count(ctx) //nolint:wrapcheck // delegate
}

// Close closes the wrapped sink.
func (s *Sink) Close() error {
	return s.next.Close() //nolint:wrapcheck // delegate
}
