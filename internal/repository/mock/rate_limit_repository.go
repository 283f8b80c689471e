package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// RateLimitRepository is a mock implementation of
// repository.RateLimitRepository for testing. Events are held in a slice;
// CountSince filters by timestamp exactly like the SQL implementations.
type RateLimitRepository struct {
	mu     sync.Mutex
	events []repository.RateLimitEvent
	nextID int64

	// Error injection for testing
	CountSinceError error
	RecordError     error

	// Now overrides the clock used when recording events.
	Now func() time.Time
}

// NewRateLimitRepository creates a new mock RateLimitRepository.
func NewRateLimitRepository() *RateLimitRepository {
	return &RateLimitRepository{}
}

// Ensure RateLimitRepository implements repository.RateLimitRepository
var _ repository.RateLimitRepository = (*RateLimitRepository)(nil)

// CountSince returns the number of events for an owner/action pair at or
// after the cutoff.
func (r *RateLimitRepository) CountSince(ctx context.Context, ownerID, action string, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CountSinceError != nil {
		return 0, r.CountSinceError
	}
	count := 0
	for _, e := range r.events {
		if e.OwnerID == ownerID && e.Action == action && !e.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

// Record appends one event.
func (r *RateLimitRepository) Record(ctx context.Context, ownerID, action string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RecordError != nil {
		return r.RecordError
	}
	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now()
	}
	r.nextID++
	r.events = append(r.events, repository.RateLimitEvent{
		ID:        r.nextID,
		OwnerID:   ownerID,
		Action:    action,
		CreatedAt: now,
	})
	return nil
}

// RecordAt appends one event at an explicit time, for window tests.
func (r *RateLimitRepository) RecordAt(ownerID, action string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.events = append(r.events, repository.RateLimitEvent{
		ID:        r.nextID,
		OwnerID:   ownerID,
		Action:    action,
		CreatedAt: at,
	})
}

// DeleteBefore removes events older than the cutoff.
func (r *RateLimitRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var removed int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return removed, nil
}

// EventCount returns the total number of stored events.
func (r *RateLimitRepository) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
