package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/repscore/internal/adapters/analysis"
	"github.com/okian/repscore/internal/adapters/blobstore"
	"github.com/okian/repscore/internal/adapters/breaker"
	"github.com/okian/repscore/internal/adapters/docstore"
	"github.com/okian/repscore/internal/adapters/fallback"
	"github.com/okian/repscore/internal/adapters/gateway"
	"github.com/okian/repscore/internal/adapters/http/api"
	"github.com/okian/repscore/internal/adapters/http/site"
	"github.com/okian/repscore/internal/adapters/http/swagger"
	"github.com/okian/repscore/internal/adapters/pg"
	"github.com/okian/repscore/internal/adapters/repository"
	app "github.com/okian/repscore/internal/app"
	"github.com/okian/repscore/internal/config"
	"github.com/okian/repscore/internal/domain/scoring"
	"github.com/okian/repscore/pkg/logger"
	"github.com/okian/repscore/pkg/metrics"
)

// HTTP server timeout constants. Uploads can be large, so reads and writes
// get more room than the header.
const (
	readTimeout            = 2 * time.Minute
	writeTimeout           = 2 * time.Minute
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

// application holds the wired components of the server.
type application struct {
	svc     *app.Service
	handler http.Handler
	pool    *pgxpool.Pool
}

// Close releases the database pool.
func (a *application) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func main() {
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if cfg.LogFormat != "" && cfg.LogFormat != "text" {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
			os.Exit(1)
		}
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := build(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build application", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer a.svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, a.svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
}

// build wires stores, breakers, the analysis dispatcher, the service and the
// HTTP routes. Without a PostgreSQL DSN the primary stores live in memory.
func build(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	a := &application{}

	var (
		docs  docstore.Store
		blobs blobstore.Store
	)
	if cfg.PostgresDSN != "" {
		pool, err := pg.Open(ctx, pg.Config{DSN: cfg.PostgresDSN, MaxOpenConns: cfg.PostgresMaxConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		a.pool = pool
		docs = docstore.NewPostgres(pool)
		blobs = blobstore.NewPostgres(pool, cfg.PublicBaseURL)
	} else {
		log.Warn(ctx, "no postgres_dsn configured; primary stores are in memory")
		docs = docstore.NewMemory()
		blobs = blobstore.NewMemory(cfg.PublicBaseURL)
	}

	settings := breaker.Settings{
		MaxRequests:  cfg.BreakerMaxRequests,
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerTimeout,
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
	}
	guardedDocs := breaker.GuardDocs(docs, breaker.New("docstore", settings, breaker.WithLogger(log)))
	guardedBlobs := breaker.GuardBlobs(blobs, breaker.New("blobstore", settings, breaker.WithLogger(log)))

	local, err := fallback.New(cfg.FallbackDir, cfg.PublicBaseURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open fallback store: %w", err)
	}

	gw := gateway.New(guardedDocs, guardedBlobs, local,
		gateway.WithUploadDir(cfg.UploadDir),
		gateway.WithLogger(log.Named("gateway")))

	dispatcher := analysis.New(analysis.Config{
		Command: cfg.AnalysisCommand,
		Args:    cfg.AnalysisArgs,
		Timeout: cfg.AnalysisTimeout,
	},
		analysis.WithLogger(log.Named("analysis")),
		analysis.WithScorer(scoring.NewScorer(scoring.WithBaseScores(cfg.BaseScores, cfg.DefaultBaseScore))),
	)

	athletes := repository.NewAthletes(guardedDocs,
		repository.WithPhotoStore(guardedBlobs),
		repository.WithLogger(log.Named("athletes")))

	a.svc = app.New(gw, dispatcher, athletes,
		app.WithLogger(log.Named("service")),
		app.WithAnalysisWorkers(cfg.AnalysisWorkers),
		app.WithQueueSize(cfg.AnalysisQueueSize),
	)

	r := chi.NewRouter()
	api.NewServer(a.svc, api.Config{
		UploadDir:       cfg.UploadDir,
		MaxUploadBytes:  cfg.MaxUploadMB << 20,
		SubmitRateLimit: cfg.SubmitRateLimit,
		CORSOrigins:     cfg.CORSOrigins,
		MaxRankingLimit: cfg.MaxRankingLimit,
	}, api.WithLogger(log.Named("http"))).Register(ctx, r)

	r.Handle(blobstore.BlobRoute+"*", blobstore.Handler(guardedBlobs))
	r.Handle(fallback.VideoRoute+"*", http.StripPrefix(fallback.VideoRoute, http.FileServer(http.Dir(local.VideoDir()))))
	swagger.Register(ctx, r)
	site.Register(ctx, r)

	a.handler = r
	return a, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics copies service counters into gauges.
func updateServiceMetrics(ctx context.Context, svc *app.Service) {
	stats := svc.GetStats(ctx)

	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if ranked, ok := stats["rankedAthletes"].(int); ok {
		metrics.UpdateRankingRecordsTotal(ranked)
	}
	if workers, ok := stats["analysisWorkers"].(int); ok {
		metrics.UpdateWorkerCount(workers)
	}
	if n, ok := stats["fallbackRecords"].(int); ok {
		metrics.UpdateFallbackRecords(n)
	}
}
