package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rgeorgiev/sensorvault/internal/metrics"
	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
	"github.com/rgeorgiev/sensorvault/internal/storage"
)

// sessionLocks hands out one mutex per session id so the
// read-compute-upload-append path of UploadPart runs serialized per
// session within this process. The database transaction remains the
// cross-process backstop.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire locks the mutex for id and returns its release func. Entries
// are refcounted so the map does not grow with dead session ids.
func (s *sessionLocks) acquire(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// UploadOrchestrator drives the upload session state machine, tying the
// record store and the object store together. Sessions start in progress
// and end in exactly one of completed or aborted.
type UploadOrchestrator struct {
	repo  repository.UploadRepository
	store storage.MultipartStore
	locks *sessionLocks

	// opTimeout bounds every call to the record store and the object store.
	opTimeout time.Duration
}

// NewUploadOrchestrator creates a new UploadOrchestrator.
func NewUploadOrchestrator(repo repository.UploadRepository, store storage.MultipartStore, opTimeout time.Duration) *UploadOrchestrator {
	if opTimeout <= 0 {
		opTimeout = 30 * time.Second
	}
	return &UploadOrchestrator{
		repo:      repo,
		store:     store,
		locks:     newSessionLocks(),
		opTimeout: opTimeout,
	}
}

// StorageKey derives the object store key for a session deterministically
// from its owner and id, so the reaper can reconstruct it without a lookup.
func StorageKey(ownerID, sessionID string) string {
	return fmt.Sprintf("uploads/%s/%s", ownerID, sessionID)
}

func (o *UploadOrchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opTimeout)
}

// Start opens a new upload session: a multipart upload in the object
// store first, then the local record. The two writes cannot be atomic
// across systems; a crash in between leaves a remote-only orphan that
// the reaper's orphan pass cleans up later.
func (o *UploadOrchestrator) Start(ctx context.Context, ownerID, dataName string) (*models.UploadSession, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrForbidden)
	}
	if dataName == "" {
		return nil, fmt.Errorf("%w: data name is required", ErrInvalidState)
	}

	id := uuid.NewString()
	key := StorageKey(ownerID, id)

	beginCtx, cancel := o.withTimeout(ctx)
	remoteID, err := o.store.Begin(beginCtx, key)
	cancel()
	if err != nil || remoteID == "" {
		metrics.ErrorsTotal.WithLabelValues("upstream_unavailable").Inc()
		slog.Error("failed to open remote multipart upload", "key", key, "error", err)
		return nil, fmt.Errorf("%w: begin multipart upload: %v", ErrUpstreamUnavailable, err)
	}

	now := time.Now().UTC()
	session := &models.UploadSession{
		ID:             id,
		OwnerID:        ownerID,
		DataName:       dataName,
		RemoteUploadID: remoteID,
		Status:         models.StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	insertCtx, cancel := o.withTimeout(ctx)
	err = o.repo.Create(insertCtx, session)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// The orphaned remote upload is left for the reaper.
			slog.Warn("session id collision", "id", id)
			return nil, fmt.Errorf("%w: %s", ErrConflict, id)
		}
		metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
		slog.Error("failed to insert upload session", "id", id, "error", err)
		return nil, fmt.Errorf("%w: insert session: %v", ErrInternal, err)
	}

	metrics.UploadsStartedTotal.Inc()
	slog.Info("upload session started",
		"id", id,
		"owner_id", ownerID,
		"data_name", dataName,
	)
	return session, nil
}

// load fetches a session and applies the ownership and status
// precondition ladder shared by the mutating operations.
func (o *UploadOrchestrator) load(ctx context.Context, ownerID, id string) (*models.UploadSession, error) {
	getCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	session, err := o.repo.GetByID(getCtx, id)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
		return nil, fmt.Errorf("%w: load session: %v", ErrInternal, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if session.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	if session.Status != models.StatusInProgress {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, session.Status)
	}
	return session, nil
}

// UploadPart uploads one chunk under the next free part number and
// registers it on the session. The part number is one past the highest
// already registered, so numbers are never reused even when an earlier
// attempt failed after the remote upload but before the local append.
// Nothing is recorded when the remote upload fails or returns no etag.
func (o *UploadOrchestrator) UploadPart(ctx context.Context, ownerID, id string, data io.Reader, size int64) (*models.UploadSession, error) {
	release := o.locks.acquire(id)
	defer release()

	session, err := o.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	partNumber := session.NextPartNumber()
	key := StorageKey(session.OwnerID, session.ID)

	start := time.Now()
	uploadCtx, cancel := o.withTimeout(ctx)
	etag, err := o.store.UploadPart(uploadCtx, key, session.RemoteUploadID, partNumber, data, size)
	cancel()
	metrics.PartUploadDuration.Observe(time.Since(start).Seconds())
	if err != nil || etag == "" {
		metrics.ErrorsTotal.WithLabelValues("part_upload").Inc()
		slog.Error("part upload failed",
			"id", id,
			"part_number", partNumber,
			"error", err,
		)
		return nil, fmt.Errorf("%w: upload part %d: %v", ErrInternal, partNumber, err)
	}

	appendCtx, cancel := o.withTimeout(ctx)
	updated, err := o.repo.AppendPart(appendCtx, id, partNumber, etag)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: session vanished during part upload", ErrNotFound)
		case errors.Is(err, repository.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: session left in_progress during part upload", ErrInvalidState)
		case errors.Is(err, repository.ErrConcurrentModification):
			metrics.ErrorsTotal.WithLabelValues("concurrent_append").Inc()
			return nil, fmt.Errorf("%w: part %d registered concurrently", ErrInternal, partNumber)
		default:
			metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
			return nil, fmt.Errorf("%w: register part: %v", ErrInternal, err)
		}
	}

	metrics.PartsUploadedTotal.Inc()
	if size > 0 {
		metrics.PartBytesTotal.Add(float64(size))
	}
	slog.Debug("part registered",
		"id", id,
		"part_number", partNumber,
		"size", size,
	)
	return updated, nil
}

// Complete assembles the session's parts into the final object and, in
// one transaction, flips the session to completed and inserts its
// dataset record. A storage failure leaves the session in progress and
// retryable.
func (o *UploadOrchestrator) Complete(ctx context.Context, ownerID, id string) (*models.UploadSession, error) {
	release := o.locks.acquire(id)
	defer release()

	session, err := o.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	key := StorageKey(session.OwnerID, session.ID)
	parts := make([]storage.Part, 0, len(session.Parts))
	for _, p := range session.Parts {
		parts = append(parts, storage.Part{PartNumber: p.PartNumber, ETag: p.ETag})
	}

	completeCtx, cancel := o.withTimeout(ctx)
	err = o.store.Complete(completeCtx, key, session.RemoteUploadID, parts)
	cancel()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("complete").Inc()
		slog.Error("remote completion failed", "id", id, "error", err)
		return nil, fmt.Errorf("%w: complete multipart upload: %v", ErrInternal, err)
	}

	dataset := &models.Dataset{
		ID:         uuid.NewString(),
		OwnerID:    session.OwnerID,
		Name:       session.DataName,
		Format:     session.DataFormat,
		StorageKey: key,
		SessionID:  session.ID,
	}

	txCtx, cancel := o.withTimeout(ctx)
	err = o.repo.CompleteWithDataset(txCtx, id, dataset)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: session vanished during completion", ErrNotFound)
		case errors.Is(err, repository.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: session left in_progress during completion", ErrInvalidState)
		default:
			metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
			slog.Error("failed to persist completion", "id", id, "error", err)
			return nil, fmt.Errorf("%w: persist completion: %v", ErrInternal, err)
		}
	}

	session.Status = models.StatusCompleted
	metrics.UploadsCompletedTotal.Inc()
	slog.Info("upload session completed",
		"id", id,
		"owner_id", ownerID,
		"parts", len(parts),
		"storage_key", key,
	)
	return session, nil
}

// Abort discards the remote multipart upload and marks the session
// aborted. When the remote abort fails the status is left untouched so
// the operation can be retried by the client or the reaper.
func (o *UploadOrchestrator) Abort(ctx context.Context, ownerID, id string) (*models.UploadSession, error) {
	release := o.locks.acquire(id)
	defer release()

	session, err := o.load(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	key := StorageKey(session.OwnerID, session.ID)

	abortCtx, cancel := o.withTimeout(ctx)
	err = o.store.Abort(abortCtx, key, session.RemoteUploadID)
	cancel()
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("abort").Inc()
		slog.Error("remote abort failed", "id", id, "error", err)
		return nil, fmt.Errorf("%w: abort multipart upload: %v", ErrInternal, err)
	}

	statusCtx, cancel := o.withTimeout(ctx)
	err = o.repo.UpdateStatus(statusCtx, id, models.StatusInProgress, models.StatusAborted)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%w: session vanished during abort", ErrNotFound)
		case errors.Is(err, repository.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: session left in_progress during abort", ErrInvalidState)
		default:
			metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
			return nil, fmt.Errorf("%w: persist abort: %v", ErrInternal, err)
		}
	}

	session.Status = models.StatusAborted
	session.UpdatedAt = time.Now().UTC()
	metrics.UploadsAbortedTotal.WithLabelValues("client").Inc()
	slog.Info("upload session aborted", "id", id, "owner_id", ownerID)
	return session, nil
}

// ListByOwner returns the caller's in-progress sessions.
func (o *UploadOrchestrator) ListByOwner(ctx context.Context, ownerID string) ([]models.UploadSession, error) {
	listCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	sessions, err := o.repo.ListByOwner(listCtx, ownerID)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("persistence").Inc()
		return nil, fmt.Errorf("%w: list sessions: %v", ErrInternal, err)
	}
	return sessions, nil
}

// SetDataFormat records the sniffed content format of a session. Best
// effort; failures are logged, not surfaced.
func (o *UploadOrchestrator) SetDataFormat(ctx context.Context, id, format string) {
	setCtx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.repo.SetDataFormat(setCtx, id, format); err != nil {
		slog.Warn("failed to record data format", "id", id, "error", err)
	}
}
