package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/repscore/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5000")
				convey.So(cfg.AnalysisTimeout, convey.ShouldEqual, 60*time.Second)
				convey.So(cfg.AnalysisQueueSize, convey.ShouldEqual, 1_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("REPSCORE_ADDR", ":8080")
			_ = os.Setenv("REPSCORE_ANALYSIS_TIMEOUT", "5s")
			_ = os.Setenv("REPSCORE_ANALYSIS_WORKERS", "4")
			_ = os.Setenv("REPSCORE_ANALYSIS_ARGS", "worker.py, --fast")
			_ = os.Setenv("REPSCORE_CORS_ORIGINS", "http://a.test,http://b.test")
			_ = os.Setenv("REPSCORE_POSTGRES_DSN", "postgres://u:p@localhost/db")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.AnalysisTimeout, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.AnalysisWorkers, convey.ShouldEqual, 4)
				convey.So(cfg.AnalysisArgs, convey.ShouldResemble, []string{"worker.py", "--fast"})
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"http://a.test", "http://b.test"})
				convey.So(cfg.PostgresDSN, convey.ShouldEqual, "postgres://u:p@localhost/db")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
analysis_command: "/usr/local/bin/counter"
analysis_workers: 8
analysis_timeout: 90s
base_scores:
  sit-ups: 0.85
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("REPSCORE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.AnalysisCommand, convey.ShouldEqual, "/usr/local/bin/counter")
				convey.So(cfg.AnalysisWorkers, convey.ShouldEqual, 8)
				convey.So(cfg.AnalysisTimeout, convey.ShouldEqual, 90*time.Second)
				convey.So(cfg.BaseScores["sit-ups"], convey.ShouldEqual, 0.85)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
analysis_workers: 8
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("REPSCORE_CONFIG", tmpFile)
			_ = os.Setenv("REPSCORE_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")      // Overridden by env
				convey.So(cfg.AnalysisWorkers, convey.ShouldEqual, 8) // From file
			})
		})

		convey.Convey("When a .env file is supplied", func() {
			dir := t.TempDir()
			dotenv := filepath.Join(dir, "test.env")
			convey.So(os.WriteFile(dotenv, []byte("REPSCORE_FALLBACK_DIR=/var/lib/repscore\nREPSCORE_ADDR=:7000\n"), 0o600), convey.ShouldBeNil)

			_ = os.Setenv("REPSCORE_ENV_FILE", dotenv)
			_ = os.Setenv("REPSCORE_ADDR", ":6000")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fill gaps without overriding the real environment", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.FallbackDir, convey.ShouldEqual, "/var/lib/repscore")
				convey.So(cfg.Addr, convey.ShouldEqual, ":6000")
			})
		})

		convey.Convey("When the named .env file does not exist", func() {
			_ = os.Setenv("REPSCORE_ENV_FILE", "/non/existent/.env")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("REPSCORE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("REPSCORE_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			tmpFile := createTempConfigFile(`addr: ""`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("REPSCORE_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-positive timeout", func() {
			_ = os.Setenv("REPSCORE_ANALYSIS_TIMEOUT", "0s")
			defer clearConfigEnvVars()

			_, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("REPSCORE_ANALYSIS_WORKERS", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"REPSCORE_CONFIG",
		"REPSCORE_ENV_FILE",
		"REPSCORE_ADDR",
		"REPSCORE_ANALYSIS_TIMEOUT",
		"REPSCORE_ANALYSIS_WORKERS",
		"REPSCORE_ANALYSIS_ARGS",
		"REPSCORE_CORS_ORIGINS",
		"REPSCORE_POSTGRES_DSN",
		"REPSCORE_FALLBACK_DIR",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "repscore-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
