package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// RateLimitRepository implements repository.RateLimitRepository for PostgreSQL.
type RateLimitRepository struct {
	pool *Pool
}

// NewRateLimitRepository creates a new PostgreSQL rate limit repository.
func NewRateLimitRepository(pool *Pool) *RateLimitRepository {
	return &RateLimitRepository{pool: pool}
}

// Ensure RateLimitRepository implements repository.RateLimitRepository
var _ repository.RateLimitRepository = (*RateLimitRepository)(nil)

// maxActionLength bounds the action name for defense-in-depth.
const maxActionLength = 64

func validateRateLimitInput(ownerID, action string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id cannot be empty", repository.ErrInvalidInput)
	}
	if action == "" {
		return fmt.Errorf("%w: action cannot be empty", repository.ErrInvalidInput)
	}
	if len(action) > maxActionLength {
		return fmt.Errorf("%w: action too long", repository.ErrInvalidInput)
	}
	return nil
}

// CountSince returns the number of events for an owner/action pair at or
// after the cutoff. The window is evaluated here, at read time, with an
// indexed range scan over stored timestamps.
func (r *RateLimitRepository) CountSince(ctx context.Context, ownerID, action string, cutoff time.Time) (int, error) {
	if err := validateRateLimitInput(ownerID, action); err != nil {
		return 0, err
	}

	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limit_events
		 WHERE owner_id = $1 AND action = $2 AND created_at >= $3`,
		ownerID, action, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit events: %w", err)
	}
	return count, nil
}

// Record appends one event at the current time.
func (r *RateLimitRepository) Record(ctx context.Context, ownerID, action string) error {
	if err := validateRateLimitInput(ownerID, action); err != nil {
		return err
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO rate_limit_events (owner_id, action, created_at) VALUES ($1, $2, $3)`,
		ownerID, action, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record rate limit event: %w", err)
	}
	return nil
}

// DeleteBefore removes events older than the cutoff.
func (r *RateLimitRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM rate_limit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rate limit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
