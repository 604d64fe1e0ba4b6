package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
consume:
  num_proc: 6
  throttle_interval: 50ms
  pop_wait: 2s
progress:
  bar: false
  description: tokens
input:
  path: data.jsonl
  shard_size: 500
stats:
  histogram_bounds: [10, 100]
  reservoir_size: 64
server:
  enabled: true
  port: 9090
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: out
db:
  dsn: postgres://localhost/shardkit
  max_conns: 8
pubsub:
  project_id: proj
  topic_name: runs
  shard_topic: shards
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Consume.NumProc != 6 {
		t.Fatalf("expected num_proc 6, got %d", cfg.Consume.NumProc)
	}
	if cfg.Consume.ThrottleInterval != 50*time.Millisecond || cfg.Consume.PopWait != 2*time.Second {
		t.Fatalf("expected duration overrides, got %+v", cfg.Consume)
	}
	if cfg.Progress.Bar || cfg.Progress.Description != "tokens" {
		t.Fatalf("expected progress overrides, got %+v", cfg.Progress)
	}
	if cfg.Progress.MaxBatchEvents != 1000 {
		t.Fatalf("expected default max_batch_events, got %d", cfg.Progress.MaxBatchEvents)
	}
	if cfg.Input.Path != "data.jsonl" || cfg.Input.ShardSize != 500 {
		t.Fatalf("expected input overrides, got %+v", cfg.Input)
	}
	if len(cfg.Stats.HistogramBounds) != 2 || cfg.Stats.ReservoirSize != 64 {
		t.Fatalf("expected stats overrides, got %+v", cfg.Stats)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9090 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.DB.MaxConns != 8 || cfg.DB.MaxConnLifetime != time.Hour {
		t.Fatalf("expected db overrides, got %+v", cfg.DB)
	}
	if cfg.PubSub.ShardTopic != "shards" {
		t.Fatalf("expected shard topic, got %q", cfg.PubSub.ShardTopic)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Consume.NumProc <= 0 {
		t.Fatalf("expected positive default num_proc, got %d", cfg.Consume.NumProc)
	}
	if cfg.Consume.ThrottleInterval != 20*time.Millisecond {
		t.Fatalf("expected 20ms throttle, got %v", cfg.Consume.ThrottleInterval)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Tracing.ServiceName != "shardkit" {
		t.Fatalf("expected service name default, got %q", cfg.Tracing.ServiceName)
	}
}

// TestLoadWithBoundViper covers values set directly on viper, the path cobra
// flags take.
func TestLoadWithBoundViper(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("consume.num_proc", 3)
	v.Set("input.path", "flag.jsonl")
	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Consume.NumProc != 3 || cfg.Input.Path != "flag.jsonl" {
		t.Fatalf("expected explicit values to win, got %+v %+v", cfg.Consume, cfg.Input)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Consume: ConsumeConfig{NumProc: 1, ThrottleInterval: time.Millisecond, PopWait: time.Second},
		Stats:   StatsConfig{ReservoirSize: 8},
		Storage: StorageConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid num_proc", func(c *Config) { c.Consume.NumProc = 0 }, "consume.num_proc"},
		{"invalid throttle", func(c *Config) { c.Consume.ThrottleInterval = 0 }, "consume.throttle_interval"},
		{"invalid pop wait", func(c *Config) { c.Consume.PopWait = -time.Second }, "consume.pop_wait"},
		{"negative rate", func(c *Config) { c.Consume.MaxItemsPerSecond = -1 }, "consume.max_items_per_second"},
		{"negative shard size", func(c *Config) { c.Input.ShardSize = -1 }, "input.shard_size"},
		{"empty reservoir", func(c *Config) { c.Stats.ReservoirSize = 0 }, "stats.reservoir_size"},
		{"server without port", func(c *Config) { c.Server.Enabled = true }, "server.port"},
		{"local without dir", func(c *Config) { c.Storage.Backend = BackendLocal }, "storage.local_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"db without pool", func(c *Config) { c.DB.DSN = "postgres://x" }, "db.max_conns"},
		{"pubsub without topic", func(c *Config) { c.PubSub.ProjectID = "p" }, "pubsub.topic_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

// TestLoadDiscoversConfigFile is not parallel: it swaps SearchPaths.
func TestLoadDiscoversConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "shardkit.yaml"), []byte("consume:\n  num_proc: 7\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	saved := SearchPaths
	SearchPaths = []string{dir}
	t.Cleanup(func() { SearchPaths = saved })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Consume.NumProc != 7 {
		t.Fatalf("expected discovered num_proc 7, got %d", cfg.Consume.NumProc)
	}
}
