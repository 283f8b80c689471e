// Package service implements the upload orchestration core: the session
// state machine, the sliding-window rate limiter, and the stale-upload
// reaper that reconciles the record store with the object store.
package service

import "errors"

// Error kinds surfaced at the service boundary. The HTTP layer maps these
// onto status codes; everything else it treats as an internal failure.
var (
	// ErrNotFound is returned when the referenced session does not exist.
	ErrNotFound = errors.New("upload session not found")

	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("upload session belongs to another user")

	// ErrInvalidState is returned when the session is not in a status that
	// permits the requested operation.
	ErrInvalidState = errors.New("upload session is not in progress")

	// ErrConflict is returned when a freshly generated session id collides
	// with an existing row. The client should retry; the orphaned remote
	// upload is reclaimed by the reaper.
	ErrConflict = errors.New("upload session id already exists")

	// ErrUpstreamUnavailable is returned when the object store cannot open
	// a multipart upload.
	ErrUpstreamUnavailable = errors.New("object store unavailable")

	// ErrRateLimited is returned when the caller's quota for an action is
	// exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrRateLimitQuery is returned when the rate limit count cannot be
	// determined. This is an internal-error signal, not an expected
	// runtime condition.
	ErrRateLimitQuery = errors.New("rate limit count unavailable")

	// ErrInternal is the catch-all for storage and persistence failures
	// that leave the session retryable.
	ErrInternal = errors.New("internal failure")
)
