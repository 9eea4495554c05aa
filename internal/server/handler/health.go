package handler

import (
	"context"
	"net/http"
	"time"
)

// Check probes one dependency. A nil error means healthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint, optionally running dependency
// probes (Postgres ping, Redis ping) when any are registered.
type HealthHandler struct {
	checks []Check
}

func NewHealthHandler(checks ...Check) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Healthz responds 200 when every probe passes, 503 otherwise.
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		if err := c.Probe(ctx); err != nil {
			deps[c.Name] = err.Error()
			healthy = false
			continue
		}
		deps[c.Name] = "ok"
	}

	status := http.StatusOK
	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}
