package repository

import (
	"context"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/models"
)

// UploadRepository defines the interface for upload session database
// operations. All methods accept a context for cancellation and timeout
// support.
type UploadRepository interface {
	// Create inserts a new upload session record.
	// Returns ErrDuplicateKey if a session with the same id already exists.
	Create(ctx context.Context, session *models.UploadSession) error

	// GetByID retrieves an upload session by id.
	// Returns nil, nil if not found.
	GetByID(ctx context.Context, id string) (*models.UploadSession, error)

	// AppendPart registers one uploaded part on a session inside a single
	// transaction. The part list is re-read under a row lock and the new
	// entry is appended to that transaction-local list, so a concurrent
	// append can never be dropped. Returns ErrNotFound if the session
	// vanished, ErrInvalidTransition if it is no longer in progress, and
	// ErrConcurrentModification if the part number is already registered.
	// The returned session reflects the committed state.
	AppendPart(ctx context.Context, id string, partNumber int, etag string) (*models.UploadSession, error)

	// UpdateStatus transitions a session from one status to another with a
	// single conditional update. Returns ErrNotFound if no row exists and
	// ErrInvalidTransition if the row is not in the expected status.
	UpdateStatus(ctx context.Context, id, from, to string) error

	// CompleteWithDataset marks a session completed and inserts its dataset
	// record in one transaction; both writes commit together or neither does.
	// Returns ErrNotFound / ErrInvalidTransition like UpdateStatus.
	CompleteWithDataset(ctx context.Context, id string, dataset *models.Dataset) error

	// SetDataFormat records the sniffed content format of a session.
	// Best effort; a session that no longer exists is not an error.
	SetDataFormat(ctx context.Context, id, format string) error

	// ListByOwner returns all in-progress sessions belonging to an owner,
	// newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]models.UploadSession, error)

	// GetStale returns in-progress sessions whose updated_at is older than
	// the cutoff. Used by the reaper.
	GetStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error)

	// GetDatasetBySession retrieves the dataset record produced by a
	// completed session. Returns nil, nil if not found.
	GetDatasetBySession(ctx context.Context, sessionID string) (*models.Dataset, error)
}
