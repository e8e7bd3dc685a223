// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load(ctx) layers a YAML file and environment variables over the defaults.
// - Errors wrap this package's sentinels so callers can use errors.Is.
package config

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/okian/composite/internal/domain/model"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" json:"log_level" yaml:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format" json:"log_format" yaml:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" json:"addr" yaml:"addr"`

	// DatabasePath points at the SQLite file. Empty keeps everything in memory.
	DatabasePath string `koanf:"database_path" json:"database_path" yaml:"database_path"`

	// ShardCount configures the number of shards in the in-memory repository.
	ShardCount int `koanf:"shard_count" json:"shard_count" yaml:"shard_count"`

	// LockShards configures the number of shards in the applicant lock table.
	LockShards int `koanf:"lock_shards" json:"lock_shards" yaml:"lock_shards"`

	// LockTimeoutMS bounds how long an update waits for the applicant lock.
	LockTimeoutMS int `koanf:"lock_timeout_ms" json:"lock_timeout_ms" yaml:"lock_timeout_ms"`

	// EventQueueSize bounds the async ingest queue.
	EventQueueSize int `koanf:"queue_size" json:"queue_size" yaml:"queue_size"`

	// WorkerCount sets the number of ingest workers.
	WorkerCount int `koanf:"worker_count" json:"worker_count" yaml:"worker_count"`

	// DedupeSize sets how many async event ids are remembered.
	DedupeSize int `koanf:"dedupe_size" json:"dedupe_size" yaml:"dedupe_size"`

	// MaxIngestRetries is how often a worker retries a conflicting event.
	MaxIngestRetries int `koanf:"max_ingest_retries" json:"max_ingest_retries" yaml:"max_ingest_retries"`

	// BackfillConcurrency caps applicants recomputed in parallel by backfill.
	BackfillConcurrency int `koanf:"backfill_concurrency" json:"backfill_concurrency" yaml:"backfill_concurrency"`

	// MetricsEnabled turns Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled" json:"metrics_enabled" yaml:"metrics_enabled"`

	// MetricsRefreshMS is how often serve samples system and service gauges.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms" json:"metrics_refresh_ms" yaml:"metrics_refresh_ms"`

	// SettingsPath names a YAML weights/bands file watched for changes.
	// When empty, Weights and Bands below are used as-is.
	SettingsPath string `koanf:"settings_path" json:"settings_path" yaml:"settings_path"`

	// Weights maps component keys to their weights.
	Weights map[string]float64 `koanf:"weights" json:"weights" yaml:"weights"`

	// Bands holds the grade thresholds.
	Bands model.BandConfig `koanf:"bands" json:"bands" yaml:"bands"`
}

// New creates a Config holding the defaults.
func New() *Config {
	weights := make(map[string]float64)
	for k, v := range model.DefaultWeights() {
		weights[string(k)] = v
	}
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		ShardCount:          16,
		LockShards:          64,
		LockTimeoutMS:       2000,
		EventQueueSize:      10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          100_000,
		MaxIngestRetries:    3,
		BackfillConcurrency: 8,
		MetricsEnabled:      true,
		MetricsRefreshMS:    10_000,
		Weights:             weights,
		Bands:               model.DefaultBands(),
	}
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}

// LockTimeout returns LockTimeoutMS as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid field, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LockTimeoutMS <= 0:
		return fmt.Errorf("%w: lock_timeout_ms must be positive, got %d", ErrInvalidConfig, c.LockTimeoutMS)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.MetricsRefreshMS <= 0:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive, got %d", ErrInvalidConfig, c.MetricsRefreshMS)
	case c.MaxIngestRetries < 0:
		return fmt.Errorf("%w: max_ingest_retries must not be negative", ErrInvalidConfig)
	}
	for name, w := range c.Weights {
		if _, err := model.ParseComponentKey(name); err != nil {
			return fmt.Errorf("%w: weights: %w", ErrInvalidConfig, err)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: weight of %s must be a non-negative number, got %v", ErrInvalidConfig, name, w)
		}
	}
	if c.Bands.A < c.Bands.B || c.Bands.B < c.Bands.C {
		return fmt.Errorf("%w: bands must satisfy a >= b >= c", ErrInvalidConfig)
	}
	return nil
}
