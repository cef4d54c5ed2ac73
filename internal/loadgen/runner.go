// Package loadgen drives a running service end to end: it registers
// athletes, uploads synthetic videos, waits for analysis, evaluates the
// results and checks the ranking against the scores it submitted.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/pkg/logger"
)

const (
	directoryPermission = 0o750
	scoreTolerance      = 1e-6
	throttleBackoff     = time.Second
)

// Report is the outcome of a run.
type Report struct {
	Stats    Stats   `json:"stats"`
	Rankings []Entry `json:"rankings"`
}

// run carries the state shared by the phases of one load run.
type run struct {
	cfg    Config
	client *client
	gen    *generator
	log    logger.Logger

	athletes    []Athlete
	assessments []Assessment

	mu       sync.Mutex
	expected map[string]map[string]float64 // athlete -> test type -> best score

	submitted, submitFailed, throttled atomic.Int64
	analyzed, analysisFailed, unsettled atomic.Int64
	evaluated                           atomic.Int64
}

// Run executes a complete load run.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if len(cfg.TestTypes) == 0 {
		cfg.TestTypes = DefaultConfig().TestTypes
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	r := &run{
		cfg:      cfg,
		client:   newClient(cfg),
		gen:      newGenerator(cfg.Seed),
		log:      logger.Named("loadgen"),
		expected: make(map[string]map[string]float64),
	}
	stats := Stats{StartTime: time.Now()}

	r.log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("athletes", cfg.Athletes),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers))

	if err := r.checkHealth(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	if err := r.registerAthletes(ctx); err != nil {
		return nil, fmt.Errorf("athlete registration failed: %w", err)
	}
	if err := r.submitAll(ctx); err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}
	if err := r.settleAll(ctx); err != nil {
		return nil, fmt.Errorf("waiting for analysis failed: %w", err)
	}
	if err := r.evaluateAll(ctx); err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	rankings, err := r.fetchRankings(ctx)
	if err != nil {
		return nil, fmt.Errorf("ranking retrieval failed: %w", err)
	}
	checked, mismatches, err := r.checkRanks(ctx)
	if err != nil {
		return nil, fmt.Errorf("rank verification failed: %w", err)
	}

	stats.AthletesRegistered = len(r.athletes)
	stats.Submitted = int(r.submitted.Load())
	stats.SubmitFailed = int(r.submitFailed.Load())
	stats.Throttled = int(r.throttled.Load())
	stats.Analyzed = int(r.analyzed.Load())
	stats.AnalysisFailed = int(r.analysisFailed.Load())
	stats.Unsettled = int(r.unsettled.Load())
	stats.Evaluated = int(r.evaluated.Load())
	stats.RanksChecked = checked
	stats.RankMismatches = mismatches
	stats.RankingEntries = len(rankings)
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	rep := &Report{Stats: stats, Rankings: rankings}
	r.logStats(ctx, stats)
	if cfg.OutputFile != "" {
		if err := saveReport(cfg.OutputFile, rep); err != nil {
			r.log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}
	if mismatches > 0 {
		return rep, fmt.Errorf("%d athletes ranked with an unexpected score", mismatches)
	}
	return rep, nil
}

func (r *run) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status  string `json:"status"`
		Primary string `json:"primaryStore"`
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to parse health: %w", err)
	}
	if body.Primary != "up" {
		r.log.Warn(ctx, "primary store is down, submissions will use local storage")
	}
	return nil
}

func (r *run) registerAthletes(ctx context.Context) error {
	regs := make([]registration, r.cfg.Athletes)
	for i := range regs {
		regs[i] = r.gen.athlete(i)
	}
	out := make([]Athlete, len(regs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, reg := range regs {
		g.Go(func() error {
			if err := r.client.sendJSON(gctx, http.MethodPost, "/api/athletes/register", reg, &out[i]); err != nil {
				return fmt.Errorf("register %s: %w", reg.Email, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.athletes = out
	r.log.Info(ctx, "registered athletes", logger.Int("count", len(out)))
	return nil
}

func (r *run) submitAll(ctx context.Context) error {
	ids := make([]string, len(r.athletes))
	for i, a := range r.athletes {
		ids[i] = a.ID
	}
	subs := make([]submission, r.cfg.Submissions)
	for i := range subs {
		subs[i] = r.gen.submission(i, ids, r.cfg.TestTypes, r.cfg.VideoSize)
	}
	out := make([]Assessment, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, s := range subs {
		g.Go(func() error {
			for {
				err := r.client.submit(gctx, s, &out[i])
				switch {
				case err == nil:
					r.submitted.Add(1)
					return nil
				case errors.Is(err, ErrThrottled):
					r.throttled.Add(1)
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(throttleBackoff):
					}
				default:
					r.submitFailed.Add(1)
					if r.cfg.Verbose {
						r.log.Warn(gctx, "submission failed", logger.Int("seq", i), logger.Error(err))
					}
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, a := range out {
		if a.ID != "" {
			r.assessments = append(r.assessments, a)
		}
	}
	r.log.Info(ctx, "submitted assessments",
		logger.Int("accepted", int(r.submitted.Load())),
		logger.Int("failed", int(r.submitFailed.Load())),
		logger.Int("throttled", int(r.throttled.Load())))
	return nil
}

// settleAll polls every assessment until it leaves Processing.
func (r *run) settleAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SettleTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range r.assessments {
		g.Go(func() error {
			a := &r.assessments[i]
			for a.Status == model.StatusProcessing {
				select {
				case <-gctx.Done():
					r.unsettled.Add(1)
					return nil
				case <-time.After(r.cfg.PollInterval):
				}
				var latest Assessment
				if err := r.client.getJSON(gctx, "/api/assessments/"+a.ID, &latest); err != nil {
					if gctx.Err() != nil {
						r.unsettled.Add(1)
						return nil
					}
					return fmt.Errorf("poll %s: %w", a.ID, err)
				}
				*a = latest
			}
			if a.Status == model.StatusFailed {
				r.analysisFailed.Add(1)
			} else {
				r.analyzed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info(ctx, "analyses settled",
		logger.Int("analyzed", int(r.analyzed.Load())),
		logger.Int("failed", int(r.analysisFailed.Load())),
		logger.Int("unsettled", int(r.unsettled.Load())))
	return nil
}

// evaluateAll scores every settled assessment and records the best score
// expected per athlete and test type.
func (r *run) evaluateAll(ctx context.Context) error {
	scores := make([]float64, len(r.assessments))
	for i := range scores {
		scores[i] = r.gen.score()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range r.assessments {
		a := r.assessments[i]
		if a.Status == model.StatusProcessing {
			continue
		}
		g.Go(func() error {
			body := map[string]any{"score": scores[i], "evaluatorNotes": "loadgen", "evaluatedBy": "loadgen"}
			if err := r.client.sendJSON(gctx, http.MethodPut, "/api/assessments/"+a.ID+"/evaluate", body, nil); err != nil {
				return fmt.Errorf("evaluate %s: %w", a.ID, err)
			}
			r.evaluated.Add(1)
			if a.AthleteID != "" {
				r.recordExpected(a.AthleteID, a.AssessmentType, scores[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.log.Info(ctx, "evaluated assessments", logger.Int("count", int(r.evaluated.Load())))
	return nil
}

func (r *run) recordExpected(athleteID, testType string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := r.expected[athleteID]
	if best == nil {
		best = make(map[string]float64)
		r.expected[athleteID] = best
	}
	if score > best[testType] {
		best[testType] = score
	}
}

func (r *run) fetchRankings(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := r.client.getJSON(ctx, fmt.Sprintf("/api/rankings?limit=%d", r.cfg.TopN), &entries); err != nil {
		return nil, err
	}
	if err := checkOrder(entries); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if r.cfg.Verbose {
			r.log.Info(ctx, "ranking", logger.Int("rank", e.Rank), logger.String("athlete", e.Name), logger.Float64("score", e.Score))
		}
	}
	return entries, nil
}

// checkOrder verifies entries are sorted by score with dense ranks.
func checkOrder(entries []Entry) error {
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if cur.Score > prev.Score {
			return fmt.Errorf("ranking not sorted: entry %d scores above entry %d", i, i-1)
		}
		want := prev.Rank
		if cur.Score < prev.Score {
			want++
		}
		if cur.Rank != want {
			return fmt.Errorf("ranking entry %d has rank %d, want %d", i, cur.Rank, want)
		}
	}
	return nil
}

// checkRanks compares each evaluated athlete's ranked score with the
// average of the best scores this run submitted.
func (r *run) checkRanks(ctx context.Context) (checked, mismatches int, err error) {
	r.mu.Lock()
	want := make(map[string]float64, len(r.expected))
	for id, best := range r.expected {
		want[id] = model.AverageOfBest(best)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, id := range ids {
		if want[id] <= 0 {
			continue
		}
		checked++
		g.Go(func() error {
			var e Entry
			if err := r.client.getJSON(gctx, "/api/rankings/"+id, &e); err != nil {
				return fmt.Errorf("rank %s: %w", id, err)
			}
			if math.Abs(e.Score-want[id]) > scoreTolerance {
				bad.Add(1)
				r.log.Warn(gctx, "unexpected ranked score",
					logger.String("athleteId", id),
					logger.Float64("want", want[id]),
					logger.Float64("got", e.Score))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return checked, int(bad.Load()), nil
}

func (r *run) logStats(ctx context.Context, s Stats) {
	var perSecond float64
	if s.Duration > 0 {
		perSecond = float64(s.Submitted) / s.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("athletesRegistered", s.AthletesRegistered),
		logger.Int("submitted", s.Submitted),
		logger.Int("submitFailed", s.SubmitFailed),
		logger.Int("throttled", s.Throttled),
		logger.Int("analyzed", s.Analyzed),
		logger.Int("analysisFailed", s.AnalysisFailed),
		logger.Int("unsettled", s.Unsettled),
		logger.Int("evaluated", s.Evaluated),
		logger.Int("ranksChecked", s.RanksChecked),
		logger.Int("rankMismatches", s.RankMismatches),
		logger.Duration("duration", s.Duration),
		logger.Float64("submissionsPerSecond", perSecond))
}

func saveReport(path string, rep *Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
