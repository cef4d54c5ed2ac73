// Package analysis runs the external repetition-counting worker and turns
// its output into an assessment analysis. Worker failures are returned as
// data, never as errors.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/scoring"
	"github.com/okian/repscore/pkg/logger"
	"github.com/okian/repscore/pkg/metrics"
)

const (
	mockRepCount    = 15
	failedScore     = 0.1
	defaultTimeout  = 60 * time.Second
	waitDelay       = 2 * time.Second
	maxDiagnostic   = 512
	outcomeSuccess  = "success"
	outcomeFailed   = "failed"
	outcomeMock     = "mock"
	outcomeCanceled = "canceled"
)

var supported = map[string]bool{
	model.TestSitUps:       true,
	model.TestPushUps:      true,
	model.TestVerticalJump: true,
	model.TestShuttleRun:   true,
}

// Supports reports whether the worker can analyze testType.
func Supports(testType string) bool { return supported[testType] }

// Config describes how the worker is invoked.
type Config struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// Dispatcher runs analyses.
type Dispatcher struct {
	cfg    Config
	scorer *scoring.Scorer
	log    logger.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithScorer replaces the default scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(d *Dispatcher) { d.scorer = s }
}

// New creates a dispatcher for cfg.
func New(cfg Config, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	d := &Dispatcher{cfg: cfg, scorer: scoring.NewScorer(), log: logger.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// workerOutput is the JSON object printed by the worker.
type workerOutput struct {
	RepCount      *int      `json:"rep_count"`
	Notes         string    `json:"notes"`
	JumpHeights   []float64 `json:"jump_heights"`
	AverageHeight float64   `json:"average_height"`
	UpThreshold   *float64  `json:"up_threshold"`
	DownThreshold *float64  `json:"down_threshold"`
	WarmupFrames  *int      `json:"warmup_frames"`
	Error         string    `json:"error"`
}

// Analyze runs the worker on videoPath. It never fails: problems are
// reported through the returned analysis's Error field.
func (d *Dispatcher) Analyze(ctx context.Context, videoPath, testType string) model.AIAnalysis {
	if !Supports(testType) {
		metrics.RecordAnalysisRun(outcomeMock, 0)
		return d.Mock(testType)
	}

	start := time.Now()
	out, err := d.run(ctx, videoPath, testType)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := outcomeFailed
		if errors.Is(err, context.Canceled) {
			outcome = outcomeCanceled
		}
		metrics.RecordAnalysisRun(outcome, elapsed)
		d.log.Warn(ctx, "analysis failed",
			logger.String("testType", testType),
			logger.String("video", videoPath),
			logger.Error(err))
		return Failure(err.Error())
	}

	metrics.RecordAnalysisRun(outcomeSuccess, elapsed)
	a := d.interpret(out, testType)
	a.ProcessingTime = elapsed
	return a
}

// Mock is the deterministic analysis for types the worker cannot handle.
func (d *Dispatcher) Mock(testType string) model.AIAnalysis {
	return model.AIAnalysis{
		RepCount:       mockRepCount,
		TechniqueScore: d.scorer.TechniqueScore(testType, mockRepCount),
		Notes:          fmt.Sprintf("Mock analysis for %s. AI analysis not available for this exercise type.", testType),
	}
}

// Failure is the analysis recorded when the worker could not produce one.
func Failure(msg string) model.AIAnalysis {
	return model.AIAnalysis{
		TechniqueScore: failedScore,
		Notes:          "AI analysis failed: " + msg,
		Error:          msg,
	}
}

func (d *Dispatcher) run(ctx context.Context, videoPath, testType string) (workerOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	args := append(append([]string{}, d.cfg.Args...), videoPath, testType)
	cmd := exec.CommandContext(ctx, d.cfg.Command, args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.log.Debug(ctx, "starting analysis worker",
		logger.String("command", d.cfg.Command),
		logger.String("testType", testType))

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return workerOutput{}, fmt.Errorf("analysis timed out after %s", d.cfg.Timeout)
		}
		return workerOutput{}, fmt.Errorf("analysis canceled: %w", ctxErr)
	}

	out, parseErr := parseOutput(stdout.Bytes())
	if runErr != nil {
		// A worker that explains its failure on stdout wins over the exit code.
		if parseErr == nil && out.Error != "" {
			return workerOutput{}, errors.New(out.Error)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return workerOutput{}, fmt.Errorf("worker exited with code %d: %s", exitErr.ExitCode(), tail(stderr.String()))
		}
		return workerOutput{}, fmt.Errorf("failed to start worker: %w", runErr)
	}
	if parseErr != nil {
		return workerOutput{}, parseErr
	}
	if out.Error != "" {
		return workerOutput{}, errors.New(out.Error)
	}
	if out.RepCount == nil {
		return workerOutput{}, errors.New("worker output has no rep_count")
	}
	if *out.RepCount < 0 {
		return workerOutput{}, fmt.Errorf("worker reported negative rep_count %d", *out.RepCount)
	}
	return out, nil
}

// parseOutput accepts either a whole JSON object or the last line that is one.
func parseOutput(raw []byte) (workerOutput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return workerOutput{}, errors.New("worker returned empty output")
	}
	var out workerOutput
	if err := json.Unmarshal(trimmed, &out); err == nil {
		return out, nil
	}
	lines := bytes.Split(trimmed, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		out = workerOutput{}
		if err := json.Unmarshal(line, &out); err == nil {
			return out, nil
		}
	}
	return workerOutput{}, fmt.Errorf("failed to parse worker output: %s", tail(string(trimmed)))
}

func (d *Dispatcher) interpret(out workerOutput, testType string) model.AIAnalysis {
	in := scoring.Input{
		TestType:      testType,
		RepCount:      *out.RepCount,
		UpThreshold:   out.UpThreshold,
		DownThreshold: out.DownThreshold,
		WarmupFrames:  out.WarmupFrames,
	}
	a := model.AIAnalysis{RepCount: *out.RepCount}
	if testType == model.TestVerticalJump {
		in.AverageHeight = out.AverageHeight
		heights := out.JumpHeights
		if heights == nil {
			heights = []float64{}
		}
		a.AdditionalMetrics = &model.AdditionalMetrics{JumpHeights: heights, AverageHeight: out.AverageHeight}
	}
	res := d.scorer.Score(in)
	a.TechniqueScore = res.TechniqueScore
	a.Notes = res.Notes
	return a
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDiagnostic {
		s = "..." + s[len(s)-maxDiagnostic:]
	}
	return s
}
