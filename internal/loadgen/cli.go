package loadgen

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/okian/repscore/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger writing to stdout and, when
// logFile is set, to that file as well. The returned func closes the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	out := io.Writer(os.Stdout)
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return nil, fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}
	if err := logger.Init(logger.WithOutput(out)); err != nil {
		closeFn()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		logger.SetLevel(slog.LevelDebug)
	}
	return closeFn, nil
}

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`RepScore Load Generator
=======================

Registers athletes, uploads synthetic assessment videos, waits for analysis,
evaluates every settled assessment and checks the ranking.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string         Base URL of the service (default "http://localhost:5000")
  -athletes int       Athletes to register (default 20)
  -submissions int    Assessments to submit (default 100)
  -types string       Comma separated test types (default "sit-ups,push-ups,sprint,endurance")
  -top int            Ranking entries to fetch (default 10)
  -workers int        Concurrent requests (default 8)
  -timeout duration   HTTP request timeout (default 30s)
  -settle duration    Time to wait for analyses (default 5m)
  -video-size int     Bytes per synthetic video (default 65536)
  -seed uint          Seed for generated data (default random)
  -output string      Write a JSON report to this file
  -log string         Also write logs to this file
  -verbose            Enable verbose logging
  -help               Show this help message

Examples:
  go run ./cmd/loadgen -submissions 500 -workers 16
  go run ./cmd/loadgen -types sit-ups -output report.json
`)
}
