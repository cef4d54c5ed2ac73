package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/repscore/pkg/metrics"
)

const pingTimeout = 2 * time.Second

// HealthChecker reports whether the primary store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	checker HealthChecker
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker, started: time.Now()}
}

type healthResponse struct {
	Status  string `json:"status"`
	Primary string `json:"primaryStore"`
	Uptime  string `json:"uptime"`
}

// HandleHealth handles GET /api/health. The service stays healthy while the
// primary store is down because submissions fall back to local storage.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := healthResponse{Status: "OK", Primary: "up", Uptime: time.Since(h.started).Round(time.Second).String()}
	if err := h.checker.Ping(ctx); err != nil {
		resp.Status = "DEGRADED"
		resp.Primary = "down"
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMetrics serves the Prometheus registry.
func (h *HealthHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
