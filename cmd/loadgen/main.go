package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okian/repscore/internal/loadgen"
	"github.com/okian/repscore/pkg/logger"
)

const defaultRunTimeout = 30 * time.Minute

func main() {
	def := loadgen.DefaultConfig()
	var (
		baseURL     = flag.String("url", def.BaseURL, "Base URL of the service")
		athletes    = flag.Int("athletes", def.Athletes, "Athletes to register")
		submissions = flag.Int("submissions", def.Submissions, "Assessments to submit")
		types       = flag.String("types", strings.Join(def.TestTypes, ","), "Comma separated test types")
		topN        = flag.Int("top", def.TopN, "Ranking entries to fetch")
		workers     = flag.Int("workers", def.Workers, "Concurrent requests")
		timeout     = flag.Duration("timeout", def.Timeout, "HTTP request timeout")
		settle      = flag.Duration("settle", def.SettleTimeout, "Time to wait for analyses")
		videoSize   = flag.Int("video-size", def.VideoSize, "Bytes per synthetic video")
		seed        = flag.Uint64("seed", 0, "Seed for generated data")
		outputFile  = flag.String("output", "", "Write a JSON report to this file")
		logFile     = flag.String("log", "", "Also write logs to this file")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	closeLog, err := loadgen.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultRunTimeout)
	defer cancel()

	cfg := loadgen.Config{
		BaseURL:       strings.TrimRight(*baseURL, "/"),
		Athletes:      *athletes,
		Submissions:   *submissions,
		TestTypes:     splitList(*types),
		TopN:          *topN,
		Workers:       *workers,
		Timeout:       *timeout,
		SettleTimeout: *settle,
		PollInterval:  def.PollInterval,
		VideoSize:     *videoSize,
		Seed:          *seed,
		OutputFile:    *outputFile,
		Verbose:       *verbose,
	}
	if _, err := loadgen.Run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "load run failed", logger.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
