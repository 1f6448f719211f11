// Package httpx serves the operational HTTP endpoints: liveness with
// dependency checks and Prometheus metrics.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const checkTimeout = 3 * time.Second

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

type healthHandler struct {
	checks map[string]Check
	logger logging.Logger
	now    func() time.Time
}

// NewRouter mounts /healthz, running every check, and /metrics when
// metrics is not nil.
func NewRouter(l logging.Logger, checks map[string]Check, metrics http.Handler) http.Handler {
	h := &healthHandler{checks: checks, logger: l, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.serveHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (h *healthHandler) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "healthy", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = "unhealthy"
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}
	resp.Timestamp = h.now().UTC().Format(time.RFC3339)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error(ctx, "failed to write health response", "error", err)
	}
}
