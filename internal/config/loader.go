package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "REPSCORE_"
	envConfig  = "REPSCORE_CONFIG"
	envDotfile = "REPSCORE_ENV_FILE"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if REPSCORE_CONFIG is set
//  3. .env file (REPSCORE_ENV_FILE, default ".env"); never overrides real env
//  4. env (prefix REPSCORE_)
func Load(ctx context.Context) (*Config, error) {
	// Start with defaults
	base := New(ctx)

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	if err := loadDotenv(); err != nil {
		return nil, err
	}

	// Environment variables: REPSCORE_ADDR, REPSCORE_ANALYSIS_TIMEOUT, ...
	// Map env keys like REPSCORE_ANALYSIS_TIMEOUT -> analysis_timeout (flat keys).
	// Comma separated values become lists for the list typed fields.
	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), strings.ToLower(envPrefix))
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var listKeys = map[string]bool{
	"analysis_args": true,
	"cors_origins":  true,
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// loadDotenv exports variables from a .env file without overriding the real
// environment. A missing default file is not an error.
func loadDotenv() error {
	path := os.Getenv(envDotfile)
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	return nil
}

// Validate checks invariants that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.AnalysisCommand == "":
		return fmt.Errorf("%w: analysis_command must not be empty", ErrInvalidConfig)
	case c.AnalysisTimeout <= 0:
		return fmt.Errorf("%w: analysis_timeout must be positive", ErrInvalidConfig)
	case c.AnalysisWorkers < 0:
		return fmt.Errorf("%w: analysis_workers must not be negative", ErrInvalidConfig)
	case c.MaxUploadMB <= 0:
		return fmt.Errorf("%w: max_upload_mb must be positive", ErrInvalidConfig)
	case c.UploadDir == "" || c.FallbackDir == "":
		return fmt.Errorf("%w: upload_dir and fallback_dir must not be empty", ErrInvalidConfig)
	case c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1:
		return fmt.Errorf("%w: breaker_failure_ratio must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}
