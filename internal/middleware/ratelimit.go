package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rgeorgiev/sensorvault/internal/service"
)

// RateLimit gates a handler behind a per-owner quota for the named
// action. The check and the log append are not atomic with the protected
// action; a slight overshoot under heavy concurrency is acceptable for a
// throttle. A failing rate limit store fails closed with a 500 so an
// outage cannot void the limits, except for unrestricted quotas, which
// never touch the store.
func RateLimit(limiter *service.RateLimiter, action string, quota service.Quota, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := OwnerID(r.Context())

		allowed, err := limiter.CheckLimit(r.Context(), owner, action, quota)
		if err != nil {
			if errors.Is(err, service.ErrRateLimitQuery) {
				slog.Error("rate limit check failed", "action", action, "error", err)
			}
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		if !allowed {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}

		if !quota.Unrestricted() {
			if err := limiter.RecordAction(r.Context(), owner, action); err != nil {
				slog.Error("failed to record rate limit action", "action", action, "error", err)
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}
		}

		next(w, r)
	}
}
