package handlers

import (
	"context"
	"net/http"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles GET /health. It reports ok when every registered
// dependency check passes.
func HealthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		healthy := true

		for name, check := range checks {
			if err := check.HealthCheck(r.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
			} else {
				status[name] = "ok"
			}
		}

		if healthy {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": status})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": status})
	}
}
