package handler

import (
	"context"
	"net/http"
	"time"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

type SystemHandler struct {
	checks  map[string]Check
	started time.Time
}

func NewSystemHandler(checks map[string]Check) *SystemHandler {
	return &SystemHandler{checks: checks, started: time.Now()}
}

// Health handles GET /health. It only says the process is up.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /ready
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	respondJSON(w, status, map[string]interface{}{"checks": results})
}
