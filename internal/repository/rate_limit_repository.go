package repository

import (
	"context"
	"time"
)

// RateLimitEvent is one append-only rate limit log row. Events are
// written on every admitted action and only ever read back via count.
type RateLimitEvent struct {
	ID        int64
	OwnerID   string
	Action    string
	CreatedAt time.Time
}

// RateLimitRepository defines the interface for the append-only rate
// limit event log. The sliding window is evaluated at read time with a
// range scan over stored timestamps, never with a counter that resets,
// so there are no window-boundary drift bugs.
type RateLimitRepository interface {
	// CountSince returns the number of events for an owner/action pair with
	// created_at at or after the cutoff.
	CountSince(ctx context.Context, ownerID, action string, cutoff time.Time) (int, error)

	// Record appends one event at the current time.
	Record(ctx context.Context, ownerID, action string) error

	// DeleteBefore removes events older than the cutoff. Retention
	// housekeeping only; never called on the request path.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
