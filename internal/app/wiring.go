package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/JakeFAU/event-dispatch/internal/config"
	"github.com/JakeFAU/event-dispatch/internal/hash/sha256"
	memorypublisher "github.com/JakeFAU/event-dispatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/event-dispatch/internal/publisher/pubsub"
	"github.com/JakeFAU/event-dispatch/internal/sink"
	"github.com/JakeFAU/event-dispatch/internal/sink/archive"
	memorysink "github.com/JakeFAU/event-dispatch/internal/sink/memory"
	"github.com/JakeFAU/event-dispatch/internal/sink/notify"
	pgsink "github.com/JakeFAU/event-dispatch/internal/sink/postgres"
	sqlitesink "github.com/JakeFAU/event-dispatch/internal/sink/sqlite"
	gcsstorage "github.com/JakeFAU/event-dispatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/event-dispatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/event-dispatch/internal/storage/memory"
)

// SinkFactory opens the backend sink for one run of a model. PULL and PUSH
// runs get separate databases or tables so their counts stay comparable.
type SinkFactory func(ctx context.Context, model string) (sink.Sink, error)

// NewSinkFactory selects the backend named by cfg.Driver.
func NewSinkFactory(cfg config.SinkConfig, clock sink.Clock) SinkFactory {
	return func(ctx context.Context, model string) (sink.Sink, error) {
		switch cfg.Driver {
		case "memory":
			return memorysink.New(), nil
		case "sqlite":
			s, err := sqlitesink.New(sqlitesink.Config{
				Path:  filepath.Join(cfg.SQLiteDir, fmt.Sprintf("banking_events_%s.db", model)),
				Clock: clock,
			})
			if err != nil {
				return nil, fmt.Errorf("open sqlite sink: %w", err)
			}
			return s, nil
		case "postgres":
			s, err := pgsink.New(ctx, pgsink.Config{
				DSN:      cfg.PostgresDSN,
				Table:    cfg.Table + "_" + model,
				MaxConns: cfg.MaxConns,
				Clock:    clock,
			})
			if err != nil {
				return nil, fmt.Errorf("open postgres sink: %w", err)
			}
			return s, nil
		default:
			return nil, fmt.Errorf("unknown sink driver %q", cfg.Driver)
		}
	}
}

// openSink builds the backend, applies the archive and notify decorators the
// config enables and initializes the result. The archive layer is returned
// separately so its object count can be reported.
func (a *App) openSink(ctx context.Context, runID, model string) (sink.Sink, *archive.Sink, error) {
	s, err := a.sinks(ctx, model)
	if err != nil {
		return nil, nil, err
	}

	var arch *archive.Sink
	if a.cfg.Archive.Enabled {
		arch, err = archive.New(s, a.blobs, sha256.New(), archive.Config{
			Prefix: a.cfg.Archive.Prefix,
			RunID:  runID,
			Logger: a.logger,
		})
		if err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("archive sink: %w", err)
		}
		s = arch
	}
	if a.cfg.Notify.Enabled {
		notified, err := notify.New(s, a.publisher, notify.Config{
			Topic:  a.cfg.Notify.Topic,
			RunID:  runID,
			Model:  model,
			Clock:  a.clock,
			Logger: a.logger,
		})
		if err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("notify sink: %w", err)
		}
		s = notified
	}

	if err := s.Initialize(ctx); err != nil {
		_ = s.Close()
		return nil, nil, fmt.Errorf("initialize sink: %w", err)
	}
	return s, arch, nil
}

func openBlobStore(ctx context.Context, cfg config.ArchiveConfig) (archive.BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive store: %w", err)
		}
		return store, nil
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}

func openPublisher(ctx context.Context, cfg config.NotifyConfig) (notify.Publisher, error) {
	switch cfg.Backend {
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		pub, err := gcppublisher.Open(ctx, gcppublisher.Config{ProjectID: cfg.ProjectID, TopicID: cfg.Topic})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}
