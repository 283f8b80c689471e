package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/metrics"
	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// Quota expresses a rate limit: Count admitted actions per Window.
// The zero value means unrestricted.
type Quota struct {
	Count  int
	Window time.Duration
}

// Unrestricted reports whether this quota imposes no limit.
func (q Quota) Unrestricted() bool {
	return q.Count <= 0 || q.Window <= 0
}

// RateLimiter admits or denies actions per principal using a sliding
// window over an append-only event log. The window is recomputed on every
// check by filtering stored timestamps, so an event stops counting the
// moment its age exceeds the window, with no bucket-reset boundary.
type RateLimiter struct {
	repo repository.RateLimitRepository

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a new RateLimiter over the given event log.
func NewRateLimiter(repo repository.RateLimitRepository) *RateLimiter {
	return &RateLimiter{
		repo: repo,
		now:  time.Now,
	}
}

// CheckLimit reports whether the owner may perform the action under the
// quota. An unrestricted quota is admitted without touching the store.
func (l *RateLimiter) CheckLimit(ctx context.Context, ownerID, action string, quota Quota) (bool, error) {
	if quota.Unrestricted() {
		return true, nil
	}

	cutoff := l.now().Add(-quota.Window)
	count, err := l.repo.CountSince(ctx, ownerID, action, cutoff)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRateLimitQuery, err)
	}

	allowed := count < quota.Count
	if !allowed {
		metrics.RateLimitRejectionsTotal.WithLabelValues(action).Inc()
		slog.Warn("rate limit exceeded",
			"owner_id", ownerID,
			"action", action,
			"count", count,
			"limit", quota.Count,
			"window", quota.Window,
		)
	}
	return allowed, nil
}

// RecordAction appends one event for the owner/action pair at the current
// time.
func (l *RateLimiter) RecordAction(ctx context.Context, ownerID, action string) error {
	if err := l.repo.Record(ctx, ownerID, action); err != nil {
		return fmt.Errorf("failed to record rate limit action: %w", err)
	}
	return nil
}
