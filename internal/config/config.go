// Package config loads and validates dispatcher run configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Delivery models accepted by run.model.
const (
	ModelPull = "pull"
	ModelPush = "push"
	ModelBoth = "both"
)

// Sink error policies accepted by consumer.on_sink_error.
const (
	OnSinkErrorAbort = "abort"
	OnSinkErrorSkip  = "skip"
)

const (
	minBatchSize = 500
	maxBatchSize = 5000
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Run        RunConfig        `mapstructure:"run"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Producer   ProducerConfig   `mapstructure:"producer"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig selects what a single invocation does.
type RunConfig struct {
	Model     string `mapstructure:"model"`
	NumEvents int    `mapstructure:"num_events"`
	Seed      uint64 `mapstructure:"seed"`
	Accounts  int    `mapstructure:"accounts"`
}

// DispatcherConfig sizes the queue and the async push pool.
type DispatcherConfig struct {
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	FallbackTimeout time.Duration `mapstructure:"fallback_timeout"`
	AsyncWorkers    int           `mapstructure:"async_workers"`
	AsyncQueueDepth int           `mapstructure:"async_queue_depth"`
}

// ProducerConfig controls send batching and pacing.
type ProducerConfig struct {
	BatchSize int     `mapstructure:"batch_size"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// ConsumerConfig controls sink batching.
type ConsumerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	OnSinkError  string        `mapstructure:"on_sink_error"`
}

// SinkConfig selects the storage backend.
type SinkConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLiteDir   string `mapstructure:"sqlite_dir"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// ArchiveConfig enables JSONL copies of every stored batch.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig enables flush notifications.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. Environment variables use the
// DISPATCH_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run.model", ModelBoth)
	v.SetDefault("run.num_events", 1_000_000)
	v.SetDefault("run.seed", 42)
	v.SetDefault("run.accounts", 10_000)
	v.SetDefault("dispatcher.queue_capacity", 0)
	v.SetDefault("dispatcher.fallback_timeout", time.Second)
	v.SetDefault("dispatcher.async_workers", 0)
	v.SetDefault("dispatcher.async_queue_depth", 0)
	v.SetDefault("producer.batch_size", 0)
	v.SetDefault("producer.rate_limit", 0)
	v.SetDefault("producer.burst", 0)
	v.SetDefault("consumer.batch_size", 0)
	v.SetDefault("consumer.poll_timeout", 50*time.Millisecond)
	v.SetDefault("consumer.flush_timeout", 10*time.Second)
	v.SetDefault("consumer.on_sink_error", OnSinkErrorAbort)
	v.SetDefault("sink.driver", "sqlite")
	v.SetDefault("sink.sqlite_dir", ".")
	v.SetDefault("sink.table", "banking_events")
	v.SetDefault("sink.max_conns", 4)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "batches")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.backend", "memory")
	v.SetDefault("notify.topic", "event-batches")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Run.Model {
	case ModelPull, ModelPush, ModelBoth:
	default:
		return fmt.Errorf("run.model must be one of pull, push, both; got %q", c.Run.Model)
	}
	if c.Run.NumEvents <= 0 {
		return fmt.Errorf("run.num_events must be > 0")
	}
	if c.Dispatcher.QueueCapacity < 0 {
		return fmt.Errorf("dispatcher.queue_capacity must be >= 0")
	}
	if c.Dispatcher.AsyncWorkers < 0 {
		return fmt.Errorf("dispatcher.async_workers must be >= 0")
	}
	if c.Producer.BatchSize < 0 || c.Consumer.BatchSize < 0 {
		return fmt.Errorf("batch sizes must be >= 0")
	}
	if c.Producer.RateLimit < 0 {
		return fmt.Errorf("producer.rate_limit must be >= 0")
	}
	switch c.Consumer.OnSinkError {
	case OnSinkErrorAbort, OnSinkErrorSkip:
	default:
		return fmt.Errorf("consumer.on_sink_error must be abort or skip; got %q", c.Consumer.OnSinkError)
	}
	switch c.Sink.Driver {
	case "memory":
	case "sqlite":
		if c.Sink.SQLiteDir == "" {
			return fmt.Errorf("sink.sqlite_dir must be set for the sqlite driver")
		}
	case "postgres":
		if c.Sink.PostgresDSN == "" {
			return fmt.Errorf("sink.postgres_dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("sink.driver must be memory, sqlite or postgres; got %q", c.Sink.Driver)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "memory", "local":
		case "gcs":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend must be memory, local or gcs; got %q", c.Archive.Backend)
		}
	}
	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic must be set when notify is enabled")
		}
		switch c.Notify.Backend {
		case "memory":
		case "pubsub":
			if c.Notify.ProjectID == "" {
				return fmt.Errorf("notify.project_id must be set for the pubsub backend")
			}
		default:
			return fmt.Errorf("notify.backend must be memory or pubsub; got %q", c.Notify.Backend)
		}
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// EffectiveBatchSize returns configured when positive, otherwise a size
// derived from the event count: max(500, min(5000, numEvents/1000)).
func EffectiveBatchSize(configured, numEvents int) int {
	if configured > 0 {
		return configured
	}
	return max(minBatchSize, min(maxBatchSize, numEvents/1000))
}

// ProducerBatchSize is the send batch size for this run.
func (c Config) ProducerBatchSize() int {
	return EffectiveBatchSize(c.Producer.BatchSize, c.Run.NumEvents)
}

// ConsumerBatchSize is the sink batch size for this run.
func (c Config) ConsumerBatchSize() int {
	return EffectiveBatchSize(c.Consumer.BatchSize, c.Run.NumEvents)
}

// Models expands run.model into the list of models to execute in order.
func (c Config) Models() []string {
	if c.Run.Model == ModelBoth {
		return []string{ModelPull, ModelPush}
	}
	return []string{c.Run.Model}
}
