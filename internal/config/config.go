// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) initializer to build a Config with defaults.
// - Load layers a YAML file, a .env file and environment variables on top.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":5000".
	Addr string `koanf:"addr"`

	// PublicBaseURL prefixes URLs handed out for stored videos.
	PublicBaseURL string `koanf:"public_base_url"`

	// PostgresDSN points at the primary document and blob store. Empty runs
	// the primary store in memory.
	PostgresDSN string `koanf:"postgres_dsn"`

	// PostgresMaxConns caps the primary store connection pool.
	PostgresMaxConns int32 `koanf:"postgres_max_conns"`

	// UploadDir receives incoming uploads before they are stored.
	UploadDir string `koanf:"upload_dir"`

	// FallbackDir holds the local fallback list file and its videos.
	FallbackDir string `koanf:"fallback_dir"`

	// MaxUploadMB is the request size ceiling for video submissions.
	MaxUploadMB int64 `koanf:"max_upload_mb"`

	// AnalysisCommand and AnalysisArgs form the worker invocation. The video
	// path and test type are appended as the last two arguments.
	AnalysisCommand string   `koanf:"analysis_command"`
	AnalysisArgs    []string `koanf:"analysis_args"`

	// AnalysisTimeout bounds one worker run.
	AnalysisTimeout time.Duration `koanf:"analysis_timeout"`

	// AnalysisWorkers sizes the bounded worker pool. Zero runs every job on
	// its own goroutine.
	AnalysisWorkers int `koanf:"analysis_workers"`

	// AnalysisQueueSize bounds the job queue feeding the worker pool.
	AnalysisQueueSize int `koanf:"analysis_queue_size"`

	// BaseScores overrides per test type technique base scores.
	BaseScores map[string]float64 `koanf:"base_scores"`

	// DefaultBaseScore applies to test types without an entry.
	DefaultBaseScore float64 `koanf:"default_base_score"`

	// Breaker* tune the circuit breaker guarding the primary store.
	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests"`
	BreakerInterval     time.Duration `koanf:"breaker_interval"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`

	// SubmitRateLimit caps submissions per client IP per minute. Zero disables it.
	SubmitRateLimit int `koanf:"submit_rate_limit"`

	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string `koanf:"cors_origins"`

	// MaxRankingLimit caps GET /api/rankings?limit.
	MaxRankingLimit int `koanf:"max_ranking_limit"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":5000",
		PublicBaseURL:       "http://localhost:5000",
		PostgresMaxConns:    10,
		UploadDir:           "uploads",
		FallbackDir:         "data",
		MaxUploadMB:         100,
		AnalysisCommand:     "python3",
		AnalysisArgs:        []string{"services/ai_analysis_wrapper.py"},
		AnalysisTimeout:     60 * time.Second,
		AnalysisWorkers:     0,
		AnalysisQueueSize:   1_000,
		DefaultBaseScore:    0.7,
		BreakerMaxRequests:  3,
		BreakerInterval:     time.Minute,
		BreakerTimeout:      30 * time.Second,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
		SubmitRateLimit:     30,
		CORSOrigins:         []string{"*"},
		MaxRankingLimit:     100,
	}
}
