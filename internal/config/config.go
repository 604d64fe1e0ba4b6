// Package config loads and validates shardkit configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Consume  ConsumeConfig  `mapstructure:"consume"`
	Progress ProgressConfig `mapstructure:"progress"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Input    InputConfig    `mapstructure:"input"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ConsumeConfig governs the worker pool.
type ConsumeConfig struct {
	NumProc          int           `mapstructure:"num_proc"`
	ThrottleInterval time.Duration `mapstructure:"throttle_interval"`
	PopWait          time.Duration `mapstructure:"pop_wait"`
	// MaxItemsPerSecond throttles consumption across the run; 0 disables it.
	MaxItemsPerSecond float64 `mapstructure:"max_items_per_second"`
	RateBurst         int     `mapstructure:"rate_burst"`
}

// ProgressConfig holds progress display and hub options. The bar fields are
// passed through to the terminal sink unchanged.
type ProgressConfig struct {
	Bar            bool          `mapstructure:"bar"`
	Description    string        `mapstructure:"description"`
	Width          int           `mapstructure:"width"`
	LogEvents      bool          `mapstructure:"log_events"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// StatsConfig shapes the statistics collected by the bundled consumer.
type StatsConfig struct {
	HistogramBounds []float64 `mapstructure:"histogram_bounds"`
	ReservoirSize   int       `mapstructure:"reservoir_size"`
}

// InputConfig describes the input file.
type InputConfig struct {
	Path        string `mapstructure:"path"`
	ShardSize   int    `mapstructure:"shard_size"`
	SkipInvalid bool   `mapstructure:"skip_invalid"`
}

// ServerConfig controls the optional HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on every request.
	APIKey string `mapstructure:"api_key"`
}

// StorageConfig selects where per-worker output objects are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the progress database. An empty DSN keeps
// progress in memory.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project keeps notifications in memory.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	TopicName  string `mapstructure:"topic_name"`
	ShardTopic string `mapstructure:"shard_topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// SearchPaths are the directories searched for shardkit.{yaml,json,toml}
// when no explicit config file is given. A missing file is not an error.
var SearchPaths = []string{".", "$HOME/.shardkit", "/etc/shardkit"}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided Viper, typically one with cobra
// flags already bound.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("SHARDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("shardkit")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("consume.num_proc", runtime.NumCPU())
	v.SetDefault("consume.throttle_interval", 20*time.Millisecond)
	v.SetDefault("consume.pop_wait", time.Second)
	v.SetDefault("consume.max_items_per_second", 0.0)
	v.SetDefault("consume.rate_burst", 1)
	v.SetDefault("progress.bar", true)
	v.SetDefault("progress.description", "consuming")
	v.SetDefault("progress.width", 40)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("stats.histogram_bounds", []float64{16, 64, 256, 1024, 4096})
	v.SetDefault("stats.reservoir_size", 1024)
	v.SetDefault("input.shard_size", 0)
	v.SetDefault("input.skip_invalid", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.local_dir", "out")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.content_type", "application/x-ndjson")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("pubsub.topic_name", "shardkit-runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "shardkit")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Consume.NumProc <= 0 {
		return fmt.Errorf("consume.num_proc must be > 0")
	}
	if c.Consume.ThrottleInterval <= 0 {
		return fmt.Errorf("consume.throttle_interval must be > 0")
	}
	if c.Consume.PopWait <= 0 {
		return fmt.Errorf("consume.pop_wait must be > 0")
	}
	if c.Consume.MaxItemsPerSecond < 0 {
		return fmt.Errorf("consume.max_items_per_second must be >= 0")
	}
	if c.Input.ShardSize < 0 {
		return fmt.Errorf("input.shard_size must be >= 0")
	}
	if c.Stats.ReservoirSize <= 0 {
		return fmt.Errorf("stats.reservoir_size must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.DB.DSN != "" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be > 0")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}
