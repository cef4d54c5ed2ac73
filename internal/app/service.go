// Package service provides the assessment pipeline that backs the HTTP API:
// submission, detached analysis runs, evaluation with athlete aggregation
// and the read side.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/repscore/internal/adapters/analysis"
	"github.com/okian/repscore/internal/adapters/gateway"
	eventqueue "github.com/okian/repscore/internal/adapters/mq/queue"
	workerpool "github.com/okian/repscore/internal/adapters/mq/worker"
	"github.com/okian/repscore/internal/adapters/repository"
	"github.com/okian/repscore/internal/domain/inflight"
	"github.com/okian/repscore/internal/domain/lifecycle"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/types"
	"github.com/okian/repscore/internal/domain/verify"
	"github.com/okian/repscore/internal/validation"
	"github.com/okian/repscore/pkg/logger"
	"github.com/okian/repscore/pkg/metrics"
)

const (
	defaultEvaluator = "SAI Official"
	stopTimeout      = 30 * time.Second
	athleteLockKey   = "athlete:"
)

// Analyzer produces an analysis for a local recording. It never fails:
// problems are carried in the returned analysis.
type Analyzer interface {
	Analyze(ctx context.Context, videoPath, testType string) model.AIAnalysis
}

// Store is the assessment persistence the service drives.
type Store interface {
	Submit(ctx context.Context, s gateway.Submission) (model.Assessment, error)
	Get(ctx context.Context, ref model.Ref) (model.Assessment, error)
	Update(ctx context.Context, ref model.Ref, p lifecycle.Patch) error
	List(ctx context.Context, f model.Filter) (model.Page, error)
	LocalVideo(ctx context.Context, a model.Assessment) (string, bool, error)
	ReleaseVideo(ctx context.Context, a model.Assessment)
	Ping(ctx context.Context) error
	FallbackCount(ctx context.Context) (int, error)
}

var _ Store = (*gateway.Gateway)(nil)

// Service implements the API dependencies for the assessment pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    Store
	analyzer Analyzer
	athletes *repository.Athletes
	ranking  repository.Ranking
	tracker  inflight.Tracker
	locks    *inflight.KeyLock

	// Bounded execution, only when workerCount > 0
	jobQueue   *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool

	// Configuration
	workerCount int
	queueSize   int

	// State
	started bool
	root    context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithAnalysisWorkers sizes the bounded worker pool. Zero, the default, runs
// every analysis on its own goroutine.
func WithAnalysisWorkers(count int) Option {
	return func(s *Service) {
		if count >= 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the job queue feeding the pool.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithRanking replaces the in-memory athlete ranking.
func WithRanking(r repository.Ranking) Option {
	return func(s *Service) {
		if r != nil {
			s.ranking = r
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service over process-scoped stores.
func New(store Store, analyzer Analyzer, athletes *repository.Athletes, opts ...Option) *Service {
	s := &Service{
		store:     store,
		analyzer:  analyzer,
		athletes:  athletes,
		ranking:   repository.NewTreapRanking(),
		tracker:   inflight.NewTracker(),
		locks:     inflight.NewKeyLock(),
		queueSize: 1_000,
		logger:    logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.root, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start rebuilds the ranking index and starts the worker pool if one is
// configured. Analyses run on the service's own context, not on ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting assessment service...")

	if s.root.Err() != nil {
		s.root, s.cancel = context.WithCancel(context.Background())
	}
	if err := s.rebuildRanking(ctx); err != nil {
		return fmt.Errorf("rebuild ranking: %w", err)
	}

	if s.workerCount > 0 {
		s.jobQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
		s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s,
			workerpool.WithLogger(s.logger))
		s.workerPool.Start(s.root)
	}

	s.started = true
	s.logger.Info(ctx, "assessment service started",
		logger.Int("analysisWorkers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("rankedAthletes", s.ranking.Count(ctx)),
	)
	return nil
}

// Stop cancels running analyses, killing their worker processes, and waits
// for the jobs to unwind.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping assessment service...")

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "worker pool did not stop cleanly", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn(ctx, "detached analyses still running at shutdown")
	}

	// queued jobs never ran; their records stay in Processing for reprocess
	if n := s.tracker.Reset(ctx); n > 0 {
		s.logger.Warn(ctx, "analyses dropped at shutdown", logger.Int("count", n))
	}

	s.started = false
	s.logger.Info(ctx, "assessment service stopped")
}

func (s *Service) rebuildRanking(ctx context.Context) error {
	list, err := s.athletes.List(ctx, model.AthleteFilter{})
	if err != nil {
		return err
	}
	for _, a := range list {
		s.ranking.Set(ctx, a.ID, a.Name, a.AverageScore)
	}
	return nil
}

// Submit stores a new assessment and starts its analysis in the background.
func (s *Service) Submit(ctx context.Context, sub gateway.Submission) (model.Assessment, error) {
	a, err := s.store.Submit(ctx, sub)
	if err != nil {
		return model.Assessment{}, err
	}
	s.tracker.Begin(ctx, a.ID)
	s.dispatch(ctx, lifecycle.Job{
		Ref:       a.Ref(),
		VideoPath: a.Video.Path,
		TestType:  a.AssessmentType,
		Trigger:   lifecycle.TriggerSubmission,
	})
	return a, nil
}

// Reprocess restarts analysis of an assessment.
func (s *Service) Reprocess(ctx context.Context, id string) (model.Assessment, error) {
	return s.restart(ctx, id, lifecycle.TriggerReprocess)
}

// ProcessAI runs the analysis of an assessment on request. Only test types
// the worker supports are accepted.
func (s *Service) ProcessAI(ctx context.Context, id string) (model.Assessment, error) {
	return s.restart(ctx, id, lifecycle.TriggerProcess)
}

func (s *Service) restart(ctx context.Context, id string, trigger lifecycle.Trigger) (model.Assessment, error) {
	ref := model.ParseRef(id)
	a, err := s.store.Get(ctx, ref)
	if err != nil {
		return model.Assessment{}, err
	}
	if trigger == lifecycle.TriggerProcess && !analysis.Supports(a.AssessmentType) {
		return model.Assessment{}, fmt.Errorf("%w: AI analysis is not supported for %s assessments", model.ErrValidation, a.AssessmentType)
	}

	if !s.tracker.Begin(ctx, ref.ID) {
		metrics.RecordAnalysisConflict()
		return model.Assessment{}, fmt.Errorf("%w: analysis already running for %s", model.ErrConflict, ref.ID)
	}

	unlock := s.locks.Lock(ref.ID)
	path, fresh, err := s.store.LocalVideo(ctx, a)
	if err == nil {
		p := lifecycle.Restart(s.now().UTC())
		if fresh {
			p.VideoPath = &path
		}
		if err = s.store.Update(ctx, ref, p); err == nil {
			p.Apply(&a)
		}
	}
	unlock()
	if err != nil {
		s.tracker.Done(ctx, ref.ID)
		return model.Assessment{}, err
	}

	s.dispatch(ctx, lifecycle.Job{Ref: ref, VideoPath: path, TestType: a.AssessmentType, Trigger: trigger})
	return a, nil
}

// dispatch hands j to the pool when there is one and otherwise, or when the
// queue is full, to a goroutine of its own. The in-flight mark for j must be
// held already.
func (s *Service) dispatch(ctx context.Context, j lifecycle.Job) {
	s.mu.RLock()
	q := s.jobQueue
	s.mu.RUnlock()

	if q != nil {
		if q.Enqueue(s.root, j) {
			return
		}
		s.logger.Warn(ctx, "analysis queue full, running job detached",
			logger.String("id", j.Ref.ID))
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.Process(s.root, j)
	}()
}

// Process runs one analysis job to completion. It implements the worker
// pool's Processor.
func (s *Service) Process(ctx context.Context, j lifecycle.Job) {
	defer s.tracker.Done(ctx, j.Ref.ID)
	metrics.AddAnalysisInFlight(1)
	defer metrics.AddAnalysisInFlight(-1)

	log := s.logger.Named("analysis")

	a, err := s.store.Get(ctx, j.Ref)
	if err != nil {
		log.Error(ctx, "cannot load assessment for analysis",
			logger.String("id", j.Ref.ID), logger.Error(err))
		return
	}
	if j.VideoPath != "" {
		a.Video.Path = j.VideoPath
	}

	var result model.AIAnalysis
	path, fresh, err := s.store.LocalVideo(ctx, a)
	switch {
	case err != nil:
		result = analysis.Failure(err.Error())
	default:
		if fresh {
			if uerr := s.store.Update(ctx, j.Ref, lifecycle.VideoRelocated(path, s.now().UTC())); uerr != nil {
				log.Warn(ctx, "cannot record relocated video",
					logger.String("id", j.Ref.ID), logger.Error(uerr))
			}
		}
		a.Video.Path = path
		result = s.analyzer.Analyze(ctx, path, j.TestType)
	}

	if ctx.Err() != nil {
		log.Warn(ctx, "analysis interrupted, record left for reprocessing",
			logger.String("id", j.Ref.ID))
		return
	}

	status, err := s.complete(ctx, j, result)
	if err != nil {
		log.Error(ctx, "cannot store analysis result",
			logger.String("id", j.Ref.ID), logger.Error(err))
		return
	}
	s.store.ReleaseVideo(ctx, a)

	log.Info(ctx, "analysis stored",
		logger.String("id", j.Ref.ID),
		logger.String("trigger", j.Trigger.String()),
		logger.String("status", string(status)),
		logger.Int("reps", result.RepCount),
		logger.Float64("techniqueScore", result.TechniqueScore))
}

// complete writes result under the record's key lock, deriving the status
// from the record as it is now.
func (s *Service) complete(ctx context.Context, j lifecycle.Job, result model.AIAnalysis) (model.Status, error) {
	unlock := s.locks.Lock(j.Ref.ID)
	defer unlock()

	cur, err := s.store.Get(ctx, j.Ref)
	if err != nil {
		return "", err
	}
	status := lifecycle.Completed(cur.Status, j.Trigger, result)
	if err := s.store.Update(ctx, j.Ref, lifecycle.Analyzed(status, result, s.now().UTC())); err != nil {
		return "", err
	}
	return status, nil
}

// Evaluate records a human verdict and folds the score into the athlete's
// best scores.
func (s *Service) Evaluate(ctx context.Context, id string, req types.EvaluationRequest) (model.Assessment, error) {
	if err := validation.Struct(&req); err != nil {
		return model.Assessment{}, err
	}
	ref := model.ParseRef(id)

	by := req.EvaluatedBy
	if by == "" {
		by = defaultEvaluator
	}
	now := s.now().UTC()
	p := lifecycle.Evaluated(model.Evaluation{
		Score:          req.Score,
		EvaluatorNotes: req.EvaluatorNotes,
		EvaluatedBy:    by,
		EvaluationDate: &now,
	}, now)

	unlock := s.locks.Lock(ref.ID)
	a, err := s.store.Get(ctx, ref)
	if err == nil {
		err = s.store.Update(ctx, ref, p)
	}
	unlock()
	if err != nil {
		return model.Assessment{}, err
	}
	p.Apply(&a)
	metrics.RecordEvaluation()

	if a.AthleteID != "" {
		s.recordBest(ctx, a.AthleteID, a.AssessmentType, *req.Score)
	}
	return a, nil
}

func (s *Service) recordBest(ctx context.Context, athleteID, testType string, score float64) {
	unlock := s.locks.Lock(athleteLockKey + athleteID)
	defer unlock()

	ath, err := s.athletes.Get(ctx, athleteID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Error(ctx, "cannot load athlete for aggregation",
				logger.String("athleteId", athleteID), logger.Error(err))
		}
		return
	}
	if !ath.RecordBest(testType, score) {
		return
	}
	if err := s.athletes.SaveScores(ctx, ath); err != nil {
		s.logger.Error(ctx, "cannot save athlete best scores",
			logger.String("athleteId", athleteID), logger.Error(err))
		return
	}
	s.ranking.Set(ctx, ath.ID, ath.Name, ath.AverageScore)
	metrics.RecordAthleteBestUpdate()
}

// Get returns an assessment with its athlete embedded when resolvable.
func (s *Service) Get(ctx context.Context, id string) (types.AssessmentDetail, error) {
	a, err := s.store.Get(ctx, model.ParseRef(id))
	if err != nil {
		return types.AssessmentDetail{}, err
	}
	d := types.AssessmentDetail{Assessment: a}
	if a.AthleteID == "" {
		return d, nil
	}
	ath, err := s.athletes.Get(ctx, a.AthleteID)
	switch {
	case err == nil:
		d.Athlete = &ath
	case !errors.Is(err, model.ErrNotFound):
		s.logger.Warn(ctx, "cannot load athlete for assessment",
			logger.String("id", a.ID), logger.String("athleteId", a.AthleteID), logger.Error(err))
	}
	return d, nil
}

// AIAnalysis returns the analysis part of an assessment.
func (s *Service) AIAnalysis(ctx context.Context, id string) (types.AnalysisReport, error) {
	a, err := s.store.Get(ctx, model.ParseRef(id))
	if err != nil {
		return types.AnalysisReport{}, err
	}
	return types.AnalysisReport{ID: a.ID, AssessmentType: a.AssessmentType, Status: a.Status, AIAnalysis: a.AIAnalysis}, nil
}

// Verify checks the shape of an assessment's hash and transaction id.
func (s *Service) Verify(ctx context.Context, id string) (types.Verification, error) {
	a, err := s.store.Get(ctx, model.ParseRef(id))
	if err != nil {
		return types.Verification{}, err
	}
	return types.Verification{
		ID:             a.ID,
		BlockchainHash: a.BlockchainHash,
		TransactionID:  a.TransactionID,
		Result:         verify.Check(a.BlockchainHash, a.TransactionID),
	}, nil
}

// List returns one page of assessments from both backends.
func (s *Service) List(ctx context.Context, f model.Filter) (model.Page, error) {
	return s.store.List(ctx, f)
}

// RegisterAthlete stores a new athlete with an optional profile photo.
func (s *Service) RegisterAthlete(ctx context.Context, a model.Athlete, photo *repository.Photo) (model.Athlete, error) {
	a.ProfilePhoto = ""
	if photo != nil {
		url, err := s.athletes.UploadPhoto(ctx, *photo)
		if err != nil {
			return model.Athlete{}, err
		}
		a.ProfilePhoto = url
	}
	out, err := s.athletes.Register(ctx, a)
	if err != nil {
		if derr := s.athletes.DeletePhoto(ctx, a.ProfilePhoto); derr != nil {
			s.logger.Warn(ctx, "failed to delete orphaned profile photo",
				logger.String("url", a.ProfilePhoto), logger.Error(derr))
		}
		return model.Athlete{}, err
	}
	return out, nil
}

// Athlete returns one athlete.
func (s *Service) Athlete(ctx context.Context, id string) (model.Athlete, error) {
	return s.athletes.Get(ctx, id)
}

// Athletes lists athletes, best average first.
func (s *Service) Athletes(ctx context.Context, f model.AthleteFilter) ([]model.Athlete, error) {
	return s.athletes.List(ctx, f)
}

// UpdateAthlete changes an athlete's profile. Renames are carried into the
// ranking.
func (s *Service) UpdateAthlete(ctx context.Context, id string, u repository.ProfileUpdate) (model.Athlete, error) {
	unlock := s.locks.Lock(athleteLockKey + id)
	defer unlock()

	a, err := s.athletes.UpdateProfile(ctx, id, u)
	if err != nil {
		return model.Athlete{}, err
	}
	s.ranking.Set(ctx, a.ID, a.Name, a.AverageScore)
	return a, nil
}

// TopN returns the top n athletes by average best score.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	entries, err := s.ranking.TopN(ctx, n)
	if err != nil {
		return nil, err
	}

	// Convert to API format
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[i] = toEntry(e)
	}
	return out, nil
}

// Rank returns an athlete's ranking position.
func (s *Service) Rank(ctx context.Context, athleteID string) (types.Entry, error) {
	e, err := s.ranking.Rank(ctx, athleteID)
	if err != nil {
		return types.Entry{}, err
	}
	return toEntry(e), nil
}

func toEntry(e repository.Entry) types.Entry {
	return types.Entry{Rank: e.Rank, AthleteID: e.AthleteID, Name: e.Name, Score: e.Score}
}

// Ping checks the primary store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Running reports whether an analysis for id is in flight.
func (s *Service) Running(ctx context.Context, id string) bool {
	return s.tracker.Running(ctx, id)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"analysisWorkers":  s.workerCount,
		"queueSize":        s.queueSize,
		"analysesInFlight": s.tracker.Size(),
		"rankedAthletes":   s.ranking.Count(ctx),
	}
	if s.jobQueue != nil {
		stats["queueLength"] = s.jobQueue.Len(ctx)
	}
	if n, err := s.store.FallbackCount(ctx); err == nil {
		stats["fallbackRecords"] = n
	}
	stats["primaryHealthy"] = s.store.Ping(ctx) == nil
	return stats
}
