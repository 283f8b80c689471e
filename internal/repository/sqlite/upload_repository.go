package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// UploadRepository implements repository.UploadRepository for SQLite.
type UploadRepository struct {
	db *sql.DB
}

// NewUploadRepository creates a new SQLite upload repository.
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
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

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO upload_sessions (
			id, owner_id, data_name, data_format, remote_upload_id, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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

// queryRower covers *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getSession(ctx context.Context, q queryRower, id string) (*models.UploadSession, error) {
	var s models.UploadSession
	err := q.QueryRowContext(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE id = ?`, id).Scan(
		&s.ID, &s.OwnerID, &s.DataName, &s.DataFormat,
		&s.RemoteUploadID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func loadParts(ctx context.Context, q queryRower, sessionID string) ([]models.UploadPart, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT part_number, etag FROM upload_parts WHERE session_id = ? ORDER BY part_number`,
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

// GetByID retrieves an upload session and its registered parts.
// Returns nil, nil if not found.
func (r *UploadRepository) GetByID(ctx context.Context, id string) (*models.UploadSession, error) {
	s, err := getSession(ctx, r.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}

	parts, err := loadParts(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	s.Parts = parts
	return s, nil
}

// AppendPart registers one uploaded part inside a write transaction. SQLite
// serializes writers, and the (session_id, part_number) primary key rejects
// a duplicate registration from a racing caller.
func (r *UploadRepository) AppendPart(ctx context.Context, id string, partNumber int, etag string) (*models.UploadSession, error) {
	if partNumber < 1 {
		return nil, fmt.Errorf("%w: part number must be positive", repository.ErrInvalidInput)
	}
	if etag == "" {
		return nil, fmt.Errorf("%w: etag cannot be empty", repository.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	s, err := getSession(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read upload session: %w", err)
	}
	if s.Status != models.StatusInProgress {
		return nil, repository.ErrInvalidTransition
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO upload_parts (session_id, part_number, etag, created_at) VALUES (?, ?, ?, ?)`,
		id, partNumber, etag, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConcurrentModification
		}
		return nil, fmt.Errorf("failed to insert part: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE upload_sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, fmt.Errorf("failed to bump session: %w", err)
	}

	parts, err := loadParts(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit part append: %w", err)
	}

	s.Parts = parts
	s.UpdatedAt = now
	return s, nil
}

// UpdateStatus transitions a session between statuses with one conditional update.
func (r *UploadRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	if !models.ValidStatuses[from] || !models.ValidStatuses[to] {
		return fmt.Errorf("%w: invalid status transition %q -> %q", repository.ErrInvalidInput, from, to)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return missingOrWrongState(ctx, r.db, id)
	}
	return nil
}

func missingOrWrongState(ctx context.Context, q queryRower, id string) error {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM upload_sessions WHERE id = ?)`, id).Scan(&exists)
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

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE upload_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusCompleted, now, id, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to mark session completed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Use the transaction's connection; the pool holds only one.
		return missingOrWrongState(ctx, tx, id)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (id, owner_id, name, format, storage_key, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dataset.ID, dataset.OwnerID, dataset.Name, dataset.Format,
		dataset.StorageKey, id, now)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert dataset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}

// SetDataFormat records the sniffed content format of a session.
func (r *UploadRepository) SetDataFormat(ctx context.Context, id, format string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE upload_sessions SET data_format = ? WHERE id = ?`, format, id)
	if err != nil {
		return fmt.Errorf("failed to set data format: %w", err)
	}
	return nil
}

// ListByOwner returns all in-progress sessions belonging to an owner, newest first.
func (r *UploadRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE owner_id = ? AND status = ? ORDER BY created_at DESC`,
		ownerID, models.StatusInProgress)
}

// GetStale returns in-progress sessions untouched since before the cutoff.
func (r *UploadRepository) GetStale(ctx context.Context, cutoff time.Time) ([]models.UploadSession, error) {
	return r.querySessions(ctx,
		`SELECT id, owner_id, data_name, data_format, remote_upload_id, status, created_at, updated_at
		 FROM upload_sessions WHERE status = ? AND updated_at < ? ORDER BY updated_at`,
		models.StatusInProgress, cutoff)
}

func (r *UploadRepository) querySessions(ctx context.Context, query string, args ...any) ([]models.UploadSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.UploadSession
	for rows.Next() {
		var s models.UploadSession
		if err := rows.Scan(
			&s.ID, &s.OwnerID, &s.DataName, &s.DataFormat,
			&s.RemoteUploadID, &s.Status, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	for i := range sessions {
		parts, err := loadParts(ctx, r.db, sessions[i].ID)
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
	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, format, storage_key, session_id, created_at
		 FROM datasets WHERE session_id = ?`, sessionID).Scan(
		&d.ID, &d.OwnerID, &d.Name, &d.Format, &d.StorageKey, &d.SessionID, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return &d, nil
}
