package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// RateLimitRepository implements repository.RateLimitRepository for SQLite.
type RateLimitRepository struct {
	db *sql.DB
}

// NewRateLimitRepository creates a new SQLite rate limit repository.
func NewRateLimitRepository(db *sql.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
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
// after the cutoff.
func (r *RateLimitRepository) CountSince(ctx context.Context, ownerID, action string, cutoff time.Time) (int, error) {
	if err := validateRateLimitInput(ownerID, action); err != nil {
		return 0, err
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_events
		 WHERE owner_id = ? AND action = ? AND created_at >= ?`,
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

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limit_events (owner_id, action, created_at) VALUES (?, ?, ?)`,
		ownerID, action, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record rate limit event: %w", err)
	}
	return nil
}

// DeleteBefore removes events older than the cutoff.
func (r *RateLimitRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete rate limit events: %w", err)
	}
	return result.RowsAffected()
}
