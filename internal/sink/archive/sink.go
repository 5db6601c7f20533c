// Package archive decorates a Sink so every stored batch is also written as
// JSON lines to a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/event-dispatch/internal/event"
	"github.com/JakeFAU/event-dispatch/internal/sink"
)

const contentType = "application/x-ndjson"

// BlobStore persists archive objects.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher derives the object name from a batch's transaction ids.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls object naming.
type Config struct {
	Prefix string
	RunID  string
	Logger *zap.Logger
}

// Sink stores batches in the wrapped sink and then archives them. Object keys
// depend only on the batch contents, so re-archiving a batch overwrites the
// same object.
type Sink struct {
	next   sink.Sink
	store  BlobStore
	hasher Hasher
	prefix string
	runID  string
	logger *zap.Logger

	mu   sync.Mutex
	uris []string
}

// New wraps next.
func New(next sink.Sink, store BlobStore, hasher Hasher, cfg Config) (*Sink, error) {
	if next == nil || store == nil || hasher == nil {
		return nil, fmt.Errorf("archive sink requires a sink, blob store and hasher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		next:   next,
		store:  store,
		hasher: hasher,
		prefix: strings.Trim(cfg.Prefix, "/"),
		runID:  cfg.RunID,
		logger: logger.Named("archive"),
	}, nil
}

// Initialize initializes the wrapped sink.
func (s *Sink) Initialize(ctx context.Context) error {
	if err := s.next.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize archived sink: %w", err)
	}
	return nil
}

// StoreBatch stores the batch and, on success, uploads it. An upload failure
// is returned even though the rows were stored.
func (s *Sink) StoreBatch(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	if err := s.next.StoreBatch(ctx, batch); err != nil {
		return err //nolint:wrapcheck // pass the backend error through untouched
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("encode event %d: %w", ev.EventID, err)
		}
	}
	digest, err := s.hasher.Hash([]byte(strings.Join(sink.TransactionIDs(batch), "\n")))
	if err != nil {
		return fmt.Errorf("hash batch: %w", err)
	}
	key := path.Join(s.prefix, s.runID, digest+".jsonl")
	uri, err := s.store.PutObject(ctx, key, contentType, &buf)
	if err != nil {
		return fmt.Errorf("archive batch: %w", err)
	}

	s.mu.Lock()
	s.uris = append(s.uris, uri)
	s.mu.Unlock()
	s.logger.Debug("batch archived", zap.String("uri", uri), zap.Int("size", len(batch)))
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

// URIs returns the objects written so far.
func (s *Sink) URIs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uris...)
}
