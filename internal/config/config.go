// Package config loads the system's YAML configuration file over built-in
// defaults, generalising the teacher's flag-plus-env wiring to the richer
// option surface this system needs. Command-line overrides are applied by
// the caller, not by this package.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig configures the embedded store and its connection pool.
type DatabaseConfig struct {
	Type           string     `yaml:"type"`
	Filename       string     `yaml:"filename"`
	MaxConnections int        `yaml:"max_connections"`
	Pool           PoolConfig `yaml:"pool"`
}

// PoolConfig mirrors storage.PoolConfig in YAML-friendly form.
type PoolConfig struct {
	Min              int   `yaml:"min"`
	Max              int   `yaml:"max"`
	AcquireTimeoutMs int64 `yaml:"acquire_timeout_ms"`
	IdleTimeoutMs    int64 `yaml:"idle_timeout_ms"`
	TestOnBorrow     bool  `yaml:"test_on_borrow"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	BatchSize          int  `yaml:"batch_size"`
	MaxConcurrentFiles int  `yaml:"max_concurrent_files"`
	SkipMalformedLines bool `yaml:"skip_malformed_lines"`
}

// AnalysisConfig configures the analysis orchestrator's strategy
// selection and caching.
type AnalysisConfig struct {
	MaxSessionsForFullAnalysis int     `yaml:"max_sessions_for_full_analysis"`
	UseSampling                bool    `yaml:"use_sampling"`
	SamplingRate               float64 `yaml:"sampling_rate"`
	UseAggregationTables       bool    `yaml:"use_aggregation_tables"`
	StreamingBatchSize         int     `yaml:"streaming_batch_size"`
	MaxProcessingTimeMs        int64   `yaml:"max_processing_time_ms"`
	EnableCaching              bool    `yaml:"enable_caching"`
	CacheExpiryMs              int64   `yaml:"cache_expiry_ms"`
}

// SessionConfig configures session reconstruction.
type SessionConfig struct {
	MaxInactivityMinutes      int      `yaml:"max_inactivity_minutes"`
	SessionIdentifierPatterns []string `yaml:"session_identifier_patterns"`
	MinRequestsPerSession     int      `yaml:"min_requests_per_session"`
}

// PatternConfig configures pattern discovery.
type PatternConfig struct {
	MinSupport      float64 `yaml:"min_support"`
	MaxPatternLength int    `yaml:"max_pattern_length"`
}

// Config is the fully-resolved configuration tree.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Ingestion IngestionConfig  `yaml:"ingestion"`
	Analysis  AnalysisConfig   `yaml:"analysis"`
	Session   SessionConfig    `yaml:"session"`
	Pattern   PatternConfig    `yaml:"pattern"`
}

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Type:           "sqlite",
			Filename:       "albanalytics.db",
			MaxConnections: 10,
			Pool: PoolConfig{
				Min: 1, Max: 10,
				AcquireTimeoutMs: 10000,
				IdleTimeoutMs:    300000,
				TestOnBorrow:     true,
			},
		},
		Ingestion: IngestionConfig{
			BatchSize:          1000,
			MaxConcurrentFiles: 1,
			SkipMalformedLines: true,
		},
		Analysis: AnalysisConfig{
			MaxSessionsForFullAnalysis: 10000,
			UseSampling:                true,
			SamplingRate:               0.1,
			UseAggregationTables:       true,
			StreamingBatchSize:         5000,
			MaxProcessingTimeMs:        300000,
			EnableCaching:              true,
			CacheExpiryMs:              30 * 60 * 1000,
		},
		Session: SessionConfig{
			MaxInactivityMinutes: 30,
			SessionIdentifierPatterns: []string{
				"?jsessionid=", "?sessionid=", "?sid=", "?session=", ";jsessionid=",
			},
			MinRequestsPerSession: 1,
		},
		Pattern: PatternConfig{
			MinSupport:       0.01,
			MaxPatternLength: 10,
		},
	}
}

// Load reads path, merging its contents over Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func (p PoolConfig) AcquireTimeout() time.Duration { return time.Duration(p.AcquireTimeoutMs) * time.Millisecond }
func (p PoolConfig) IdleTimeout() time.Duration    { return time.Duration(p.IdleTimeoutMs) * time.Millisecond }
func (a AnalysisConfig) CacheExpiry() time.Duration { return time.Duration(a.CacheExpiryMs) * time.Millisecond }
func (a AnalysisConfig) MaxProcessingTime() time.Duration {
	return time.Duration(a.MaxProcessingTimeMs) * time.Millisecond
}
