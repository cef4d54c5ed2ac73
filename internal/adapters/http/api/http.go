// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"github.com/okian/repscore/internal/adapters/gateway"
	"github.com/okian/repscore/internal/adapters/repository"
	"github.com/okian/repscore/internal/domain/model"
	"github.com/okian/repscore/internal/domain/types"
	"github.com/okian/repscore/pkg/logger"
)

// AssessmentDependencies covers the assessment pipeline.
type AssessmentDependencies interface {
	Submit(ctx context.Context, s gateway.Submission) (model.Assessment, error)
	List(ctx context.Context, f model.Filter) (model.Page, error)
	Get(ctx context.Context, id string) (types.AssessmentDetail, error)
	AIAnalysis(ctx context.Context, id string) (types.AnalysisReport, error)
	Verify(ctx context.Context, id string) (types.Verification, error)
	Evaluate(ctx context.Context, id string, req types.EvaluationRequest) (model.Assessment, error)
	ProcessAI(ctx context.Context, id string) (model.Assessment, error)
	Reprocess(ctx context.Context, id string) (model.Assessment, error)
}

// AthleteDependencies covers athlete records.
type AthleteDependencies interface {
	RegisterAthlete(ctx context.Context, a model.Athlete, photo *repository.Photo) (model.Athlete, error)
	Athlete(ctx context.Context, id string) (model.Athlete, error)
	Athletes(ctx context.Context, f model.AthleteFilter) ([]model.Athlete, error)
	UpdateAthlete(ctx context.Context, id string, u repository.ProfileUpdate) (model.Athlete, error)
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AssessmentDependencies
	AthleteDependencies
	RankingDependencies
	RankDependencies
	HealthChecker
	StatsProvider
}

// Config tunes the HTTP surface.
type Config struct {
	// UploadDir receives multipart uploads before they are stored.
	UploadDir string
	// MaxUploadBytes caps the size of a submitted video.
	MaxUploadBytes int64
	// SubmitRateLimit caps submissions per client IP per minute. Zero disables it.
	SubmitRateLimit int
	// CORSOrigins lists allowed browser origins.
	CORSOrigins []string
	// MaxRankingLimit caps GET /api/rankings?limit.
	MaxRankingLimit int
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		UploadDir:       "uploads",
		MaxUploadBytes:  100 << 20,
		SubmitRateLimit: 30,
		CORSOrigins:     []string{"*"},
		MaxRankingLimit: 100,
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	cfg Config

	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	assessmentHandler *AssessmentHandler
	athleteHandler    *AthleteHandler
	rankingHandler    *RankingHandler
	rankHandler       *RankHandler
	dashboardHandler  *dashboardHandler

	logger logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, cfg Config, opts ...ServerOption) *Server {
	def := DefaultConfig()
	if cfg.UploadDir == "" {
		cfg.UploadDir = def.UploadDir
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = def.CORSOrigins
	}
	if cfg.MaxRankingLimit <= 0 {
		cfg.MaxRankingLimit = def.MaxRankingLimit
	}

	s := &Server{cfg: cfg, logger: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler(deps)
	s.statsHandler = NewStatsHandler(deps)
	s.assessmentHandler = NewAssessmentHandler(deps, cfg.UploadDir, cfg.MaxUploadBytes, s.logger)
	s.athleteHandler = NewAthleteHandler(deps)
	s.rankingHandler = NewRankingHandler(deps, cfg.MaxRankingLimit)
	s.rankHandler = NewRankHandler(deps)
	s.dashboardHandler = newDashboardHandler()
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/dashboard", s.dashboardHandler.HandleDashboard)

	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware)

		r.Get("/stats", s.statsHandler.HandleStats)
		r.Get("/api/health", s.healthHandler.HandleHealth)

		r.Route("/api/assessments", func(r chi.Router) {
			submit := r.With()
			if s.cfg.SubmitRateLimit > 0 {
				submit = r.With(httprate.Limit(s.cfg.SubmitRateLimit, time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeJSON(w, http.StatusTooManyRequests, errorResponse{
							Code:    "rate_limited",
							Message: "Too many submissions, please retry later",
						})
					}),
				))
			}
			submit.Post("/submit", s.assessmentHandler.HandleSubmit)

			r.Get("/", s.assessmentHandler.HandleList)
			r.Get("/{id}", s.assessmentHandler.HandleGet)
			r.Get("/{id}/ai-analysis", s.assessmentHandler.HandleAIAnalysis)
			r.Get("/{id}/verify", s.assessmentHandler.HandleVerify)
			r.Put("/{id}/evaluate", s.assessmentHandler.HandleEvaluate)
			r.Post("/{id}/process-ai", s.assessmentHandler.HandleProcessAI)
			r.Post("/{id}/reprocess", s.assessmentHandler.HandleReprocess)
		})

		r.Route("/api/athletes", func(r chi.Router) {
			r.Post("/register", s.athleteHandler.HandleRegister)
			r.Get("/", s.athleteHandler.HandleList)
			r.Get("/{id}", s.athleteHandler.HandleGet)
			r.Put("/{id}", s.athleteHandler.HandleUpdate)
		})

		r.Get("/api/rankings", s.rankingHandler.HandleGetRankings)
		r.Get("/api/rankings/{athleteId}", s.rankHandler.HandleGetRank)
	})
}

// envelope is the success body shared by every JSON endpoint.
type envelope struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Current      int `json:"current"`
	Total        int `json:"total"`
	Count        int `json:"count"`
	TotalRecords int `json:"totalRecords"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: msg, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, errorResponse{Code: code, Message: message(status, err)})
}
