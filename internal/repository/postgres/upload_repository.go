package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// UploadRepository implements repository.UploadRepository for PostgreSQL.
type UploadRepository struct {
	pool *Pool
}

// NewUploadRepository creates a new PostgreSQL upload repository.
func NewUploadRepository(pool *Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

// Ensure UploadRepository implements repository.UploadRepository
var _ repository.UploadRepository = (*UploadRepository)(nil)

// Create inserts a new upload session record.
func (r *UploadRepository) Create(ctx context.Context, session *models.UploadSession) error {
	if session == nil {
		return fmt.Errorf("%w: session cannot be nil", repository.ErrInvalidInput)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: session id cannot be empty", repository.ErrInvalidInput)
	}
	if session.RemoteUploadID == "" {
		return fmt.Errorf("%w: remote upload id cannot be empty", repository.ErrInvalidInput)
	}

	status := session.Status
	if status == "" {
		status = models.StatusInProgress
	}
	if !models.ValidStatuses[status] {
		return fmt.Errorf("%w: invalid status %q", repository.ErrInvalidInput, status)
	}

	query := `
		INSERT INTO upload_sessions (
			id, owner_id, data_name, data_format, remote_upload_id, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.OwnerID,
		session.DataName,
		session.DataFormat,
		session.RemoteUploadID,
		status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to create upload session: %w", err)
	}

	return nil
}

// GetByID retrieves an upload session and its registered parts.
// Returns nil, nil if not found.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}

	parts, err := r.loadParts(ctx, r.pool, id)
	if err != nil {
		return nil, err
	}
	session.Parts = parts
	return session, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.UploadSession, error) {
	var s models.UploadSession
	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&s.DataName,
		&s.DataFormat,
		&s.RemoteUploadID,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// querier covers both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *UploadRepository) loadParts(ctx context.Context, q querier, sessionID string) ([]models.UploadPart, error) {
	rows, err := q.Query(ctx,
		`SELECT part_number, etag FROM upload_parts WHERE session_id = $1 ORDER BY part_number`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parts: %w", err)
	}
	defer rows.Close()

	var parts []models.UploadPart
	for rows.Next() {
		var p models.UploadPart
		if err := rows.Scan(&p.PartNumber, &p.ETag); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parts: %w", err)
	}
	return parts, nil
}

// AppendPart registers one uploaded part inside a single transaction. The
// session row is locked FOR UPDATE, the part list is re-read under that
// lock, and the insert hits the (session_id, part_number) primary key, so
// a concurrently registered part can neither be dropped nor duplicated.
func (r *UploadRepository) AppendPart(ctx context.Context, id string, partNumber int, etag string) (*models.UploadSession, error) {
	if partNumber < 1 {
		return nil, fmt.Errorf("%w: part number must be positive", repository.ErrInvalidInput)
	}
	if etag == "" {
		return nil, fmt.Errorf("%w: etag cannot be empty", repository.ErrInvalidInput)
	}

	var session *models.UploadSession
	err := withRetryNoReturn(ctx, 3, func() error {
		tx, err := r.pool.BeginTx(ctx, TxOptions())
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		s, err := scanSession(tx.QueryRow(ctx,
			`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
			 FROM upload_sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("failed to lock upload session: %w", err)
		}
		if s.Status != models.StatusInProgress {
			return repository.ErrInvalidTransition
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx,
			`INSERT INTO upload_parts (session_id, part_number, etag, created_at) VALUES ($1, $2, $3, $4)`,
			id, partNumber, etag, now)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert part: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE upload_sessions SET updated_at = $1 WHERE id = $2`, now, id)
		if err != nil {
			return fmt.Errorf("failed to bump session: %w", err)
		}

		parts, err := r.loadParts(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit part append: %w", err)
		}

		s.Parts = parts
		s.UpdatedAt = now
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// UpdateStatus transitions a session between statuses with one conditional
// update. The WHERE clause carries the expected current status, so the
// check and the mutation are a single atomic statement.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	if !models.ValidStatuses[from] || !models.ValidStatuses[to] {
		return fmt.Errorf("%w: invalid status transition %q -> %q", repository.ErrInvalidInput, from, to)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE upload_sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return missingOrWrongState(ctx, r.pool, id)
	}
	return nil
}

// rowQuerier covers both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// missingOrWrongState distinguishes a vanished row from one in an
// unexpected status after a conditional update matched nothing.
func missingOrWrongState(ctx context.Context, q rowQuerier, id string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM upload_sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session existence: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrInvalidTransition
}

// CompleteWithDataset marks a session completed and inserts its dataset
// record in one transaction.
func (r *UploadRepository) CompleteWithDataset(ctx context.Context, id string, dataset *models.Dataset) error {
	if dataset == nil {
		return fmt.Errorf("%w: dataset cannot be nil", repository.ErrInvalidInput)
	}
	if dataset.ID == "" {
		return fmt.Errorf("%w: dataset id cannot be empty", repository.ErrInvalidInput)
	}

	return withRetryNoReturn(ctx, 3, func() error {
		tx, err := r.pool.BeginTx(ctx, TxOptions())
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		now := time.Now().UTC()
		tag, err := tx.Exec(ctx,
			`UPDATE upload_sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
			models.StatusCompleted, now, id, models.StatusInProgress)
		if err != nil {
			return fmt.Errorf("failed to mark session completed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrWrongState(ctx, tx, id)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO datasets (id, owner_id, name, format, storage_key, session_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			dataset.ID, dataset.OwnerID, dataset.Name, dataset.Format,
			dataset.StorageKey, id, now)
		if err != nil {
			if isUniqueViolation(err) {
				return repository.ErrDuplicateKey
			}
			return fmt.Errorf("failed to insert dataset: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit completion: %w", err)
		}
		return nil
	})
}

// SetDataFormat records the sniffed content format of a session.
func (r *UploadRepository) SetDataFormat(ctx context.Context, id, format string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE upload_sessions SET data_format = $1 WHERE id = $2`, format, id)
	if err != nil {
		return fmt.Errorf("failed to set data format: %w", err)
	}
	return nil
}

// ListByOwner returns all in-progress sessions belonging to an owner, newest first.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC`,
		ownerID, models.StatusInProgress)
}

// GetStale returns in-progress sessions untouched since before the cutoff.
func (r *UploadRepository) GetStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`,
		models.StatusInProgress, cutoff)
}

func (r *UploadRepository) querySessions(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	for i := range sessions {
		parts, err := r.loadParts(ctx, r.pool, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Parts = parts
	}
	return sessions, nil
}

// GetDatasetBySession retrieves the dataset produced by a completed session.
// Returns nil, nil if not found.
func (r *UploadRepository) GetDatasetBySession(ctx context.Context, sessionID string) (*models.Dataset, error) {
	var d models.Dataset
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, format, storage_key, session_id, created_at
		 FROM datasets WHERE session_id = $1`, sessionID).Scan(
		&d.ID, &d.OwnerID, &d.Name, &d.Format, &d.StorageKey, &d.SessionID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return &d, nil
}
