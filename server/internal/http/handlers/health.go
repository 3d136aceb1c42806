package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/critterforge/internal/domain/repositories"
	"github.com/devilmonastery/critterforge/server/internal/http/respond"
)

// HealthHandler answers liveness and readiness probes
type HealthHandler struct {
	checks map[string]repositories.HealthChecker
	log    *slog.Logger
}

// NewHealthHandler creates the probe routes. Readiness runs every check.
func NewHealthHandler(checks map[string]repositories.HealthChecker) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		log:    slog.Default().With(slog.String("handler", "health")),
	}
}

// Health reports that the process is serving
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness reports whether every dependency answers
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			h.log.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	respond.JSON(w, status, results)
}
