// Package mock provides in-memory implementations of the repository
// interfaces for testing. State lives in maps guarded by a mutex and
// every method has an error injection field.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// UploadRepository is a mock implementation of repository.UploadRepository
// for testing.
type UploadRepository struct {
	mu sync.Mutex

	sessions map[string]*models.UploadSession
	datasets map[string]*models.Dataset // keyed by session id

	// Error injection for testing
	CreateError              error
	GetByIDError             error
	AppendPartError          error
	UpdateStatusError        error
	CompleteWithDatasetError error
	ListByOwnerError         error
	GetStaleError            error

	// VanishOnAppend makes AppendPart behave as if the row disappeared
	// between the caller's read and the transactional re-read.
	VanishOnAppend bool
}

// NewUploadRepository creates a new mock UploadRepository.
func NewUploadRepository() *UploadRepository {
	return &UploadRepository{
		sessions: make(map[string]*models.UploadSession),
		datasets: make(map[string]*models.Dataset),
	}
}

// Ensure UploadRepository implements repository.UploadRepository
var _ repository.UploadRepository = (*UploadRepository)(nil)

func copySession(s *models.UploadSession) *models.UploadSession {
	out := *s
	out.Parts = append([]models.UploadPart(nil), s.Parts...)
	return &out
}

// Create inserts a new upload session record.
func (r *UploadRepository) Create(ctx context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CreateError != nil {
		return r.CreateError
	}
	if _, exists := r.sessions[session.ID]; exists {
		return repository.ErrDuplicateKey
	}
	r.sessions[session.ID] = copySession(session)
	return nil
}

// GetByID retrieves a session. Returns nil, nil if not found.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.GetByIDError != nil {
		return nil, r.GetByIDError
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

// AppendPart registers one part, enforcing the same invariants as the
// real implementations: in-progress status and unique part numbers.
func (r *UploadRepository) AppendPart(ctx context.Context, id string, partNumber int, etag string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.AppendPartError != nil {
		return nil, r.AppendPartError
	}
	s, ok := r.sessions[id]
	if !ok || r.VanishOnAppend {
		return nil, repository.ErrNotFound
	}
	if s.Status != models.StatusInProgress {
		return nil, repository.ErrInvalidTransition
	}
	for _, p := range s.Parts {
		if p.PartNumber == partNumber {
			return nil, repository.ErrConcurrentModification
		}
	}
	s.Parts = append(s.Parts, models.UploadPart{PartNumber: partNumber, ETag: etag})
	s.UpdatedAt = time.Now().UTC()
	return copySession(s), nil
}

// UpdateStatus transitions a session between statuses.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.UpdateStatusError != nil {
		return r.UpdateStatusError
	}
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != from {
		return repository.ErrInvalidTransition
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteWithDataset marks a session completed and records its dataset.
func (r *UploadRepository) CompleteWithDataset(ctx context.Context, id string, dataset *models.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.CompleteWithDatasetError != nil {
		return r.CompleteWithDatasetError
	}
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != models.StatusInProgress {
		return repository.ErrInvalidTransition
	}
	if _, exists := r.datasets[id]; exists {
		return repository.ErrDuplicateKey
	}
	s.Status = models.StatusCompleted
	s.UpdatedAt = time.Now().UTC()
	d := *dataset
	d.SessionID = id
	d.CreatedAt = s.UpdatedAt
	r.datasets[id] = &d
	return nil
}

// SetDataFormat records the sniffed content format of a session.
func (r *UploadRepository) SetDataFormat(ctx context.Context, id, format string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.DataFormat = format
	}
	return nil
}

// ListByOwner returns in-progress sessions for an owner.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ListByOwnerError != nil {
		return nil, r.ListByOwnerError
	}
	var out []models.UploadSession
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && s.Status == models.StatusInProgress {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

// GetStale returns in-progress sessions untouched since before the cutoff.
func (r *UploadRepository) GetStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.GetStaleError != nil {
		return nil, r.GetStaleError
	}
	var out []models.UploadSession
	for _, s := range r.sessions {
		if s.Status == models.StatusInProgress && s.UpdatedAt.Before(cutoff) {
			out = append(out, *copySession(s))
		}
	}
	return out, nil
}

// GetDatasetBySession retrieves the dataset produced by a completed session.
func (r *UploadRepository) GetDatasetBySession(ctx context.Context, sessionID string) (*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.datasets[sessionID]
	if !ok {
		return nil, nil
	}
	out := *d
	return &out, nil
}

// SetUpdatedAt rewinds a session's updated_at for staleness tests.
func (r *UploadRepository) SetUpdatedAt(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.UpdatedAt = t
	}
}

// Session returns the stored session state for assertions.
func (r *UploadRepository) Session(id string) *models.UploadSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return copySession(s)
	}
	return nil
}
