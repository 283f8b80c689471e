package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/metrics"
	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
	"github.com/rgeorgiev/sensorvault/internal/storage"
)

// eventRetention is how long rate limit events are kept before the
// reaper purges them. Must exceed the largest configurable quota window.
const eventRetention = 24 * time.Hour

// StaleUploadReaper reconciles abandoned upload sessions. It runs two
// independent passes: one over the record store for sessions that went
// quiet, and one over the object store for multipart uploads that never
// got a local record. Each pass is best effort; whatever a run misses is
// picked up by the next one. It also purges rate limit events too old to
// count against any window.
type StaleUploadReaper struct {
	repo      repository.UploadRepository
	events    repository.RateLimitRepository
	store     storage.MultipartStore
	threshold time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewStaleUploadReaper creates a reaper that aborts uploads idle longer
// than the threshold. events may be nil when no rate limit store is in
// play.
func NewStaleUploadReaper(repo repository.UploadRepository, events repository.RateLimitRepository, store storage.MultipartStore, threshold time.Duration) *StaleUploadReaper {
	if threshold <= 0 {
		threshold = time.Hour
	}
	return &StaleUploadReaper{
		repo:      repo,
		events:    events,
		store:     store,
		threshold: threshold,
		now:       time.Now,
	}
}

// Run starts the periodic reaper loop. It sweeps immediately on start and
// then on every tick until the context is cancelled.
func (r *StaleUploadReaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("stale upload reaper started",
		"interval", interval,
		"threshold", r.threshold,
	)

	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale upload reaper shutting down")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs both reconciliation passes once. Pass failures are logged
// and do not block the other pass.
func (r *StaleUploadReaper) Sweep(ctx context.Context) {
	start := time.Now()
	cutoff := r.now().Add(-r.threshold)

	reaped, recordErr := r.sweepRecords(ctx, cutoff)
	orphans, orphanErr := r.sweepOrphans(ctx, cutoff)
	purgeErr := r.purgeEvents(ctx)

	status := "success"
	if recordErr != nil || orphanErr != nil || purgeErr != nil {
		status = "error"
	}
	metrics.ReaperSweepsTotal.WithLabelValues(status).Inc()

	if reaped > 0 || orphans > 0 {
		slog.Info("reaper sweep completed",
			"stale_sessions", reaped,
			"orphans", orphans,
			"duration", time.Since(start),
		)
	} else {
		slog.Debug("reaper sweep completed", "duration", time.Since(start))
	}
}

// sweepRecords aborts sessions the record store reports as stale. Only
// ids whose remote abort succeeded are marked aborted; the rest stay in
// progress for the next run. The abort-then-mark pairs are deliberately
// independent per id, so a crash mid-batch is harmless.
func (r *StaleUploadReaper) sweepRecords(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := r.repo.GetStale(ctx, cutoff)
	if err != nil {
		slog.Error("reaper failed to list stale sessions", "error", err)
		return 0, err
	}

	reaped := 0
	for _, session := range stale {
		key := StorageKey(session.OwnerID, session.ID)

		if err := r.store.Abort(ctx, key, session.RemoteUploadID); err != nil {
			slog.Warn("reaper failed to abort remote upload",
				"id", session.ID,
				"key", key,
				"error", err,
			)
			continue
		}

		err := r.repo.UpdateStatus(ctx, session.ID, models.StatusInProgress, models.StatusAborted)
		if err != nil {
			// A racing complete/abort already moved the session on.
			slog.Warn("reaper could not mark session aborted",
				"id", session.ID,
				"error", err,
			)
			continue
		}

		reaped++
		metrics.ReaperAbortedTotal.WithLabelValues("record").Inc()
		metrics.UploadsAbortedTotal.WithLabelValues("reaper").Inc()
		slog.Info("stale upload aborted",
			"id", session.ID,
			"owner_id", session.OwnerID,
			"idle_since", session.UpdatedAt,
		)
	}
	return reaped, nil
}

// sweepOrphans aborts multipart uploads the object store holds open past
// the threshold, regardless of local records. This reclaims uploads
// orphaned by a crash between the remote begin and the local insert; no
// local update is needed because no row exists.
func (r *StaleUploadReaper) sweepOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	orphans := 0
	err := r.store.ListInProgress(ctx, func(u storage.InProgressUpload) error {
		if u.InitiatedAt.IsZero() || !u.InitiatedAt.Before(cutoff) {
			return nil
		}

		if err := r.store.Abort(ctx, u.Key, u.RemoteUploadID); err != nil {
			slog.Warn("reaper failed to abort orphaned upload",
				"key", u.Key,
				"error", err,
			)
			return nil
		}

		orphans++
		metrics.ReaperAbortedTotal.WithLabelValues("orphan").Inc()
		slog.Info("orphaned upload aborted",
			"key", u.Key,
			"initiated_at", u.InitiatedAt,
		)
		return nil
	})
	if err != nil {
		slog.Error("reaper failed to list remote uploads", "error", err)
		return orphans, err
	}
	return orphans, nil
}

// purgeEvents drops rate limit events old enough to never count against
// any quota window again.
func (r *StaleUploadReaper) purgeEvents(ctx context.Context) error {
	if r.events == nil {
		return nil
	}

	removed, err := r.events.DeleteBefore(ctx, r.now().Add(-eventRetention))
	if err != nil {
		slog.Error("reaper failed to purge rate limit events", "error", err)
		return err
	}
	if removed > 0 {
		slog.Debug("purged rate limit events", "removed", removed)
	}
	return nil
}
