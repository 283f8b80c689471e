package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rgeorgiev/sensorvault/internal/models"
	"github.com/rgeorgiev/sensorvault/internal/repository"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testSession(ownerID string) *models.UploadSession {
	now := time.Now().UTC()
	return &models.UploadSession{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		DataName:       "readings",
		RemoteUploadID: "remote-" + uuid.NewString(),
		Status:         models.StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetByID(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID() returned nil for existing session")
	}
	if got.ID != session.ID || got.OwnerID != "u1" || got.DataName != "readings" {
		t.Errorf("GetByID() = {%s %s %s}, want {%s u1 readings}", got.ID, got.OwnerID, got.DataName, session.ID)
	}
	if got.RemoteUploadID != session.RemoteUploadID {
		t.Errorf("RemoteUploadID = %q, want %q", got.RemoteUploadID, session.RemoteUploadID)
	}
	if got.Status != models.StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusInProgress)
	}
	if len(got.Parts) != 0 {
		t.Errorf("new session has %d parts, want 0", len(got.Parts))
	}
}

func TestGetByIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)

	got, err := repo.GetByID(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got != nil {
		t.Errorf("GetByID() = %+v, want nil", got)
	}
}

func TestCreateDuplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.Create(ctx, session); !errors.Is(err, repository.ErrDuplicateKey) {
		t.Errorf("duplicate Create() error = %v, want ErrDuplicateKey", err)
	}
}

func TestCreateValidation(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	cases := []struct {
		name    string
		session *models.UploadSession
	}{
		{"nil session", nil},
		{"empty id", &models.UploadSession{RemoteUploadID: "r"}},
		{"empty remote id", &models.UploadSession{ID: "x"}},
		{"bad status", &models.UploadSession{ID: "x", RemoteUploadID: "r", Status: "paused"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := repo.Create(ctx, tc.session); !errors.Is(err, repository.ErrInvalidInput) {
				t.Errorf("Create() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAppendPart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	updated, err := repo.AppendPart(ctx, session.ID, 1, "etag-1")
	if err != nil {
		t.Fatalf("AppendPart() error: %v", err)
	}
	if len(updated.Parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(updated.Parts))
	}
	if updated.Parts[0].PartNumber != 1 || updated.Parts[0].ETag != "etag-1" {
		t.Errorf("part = %+v, want {1 etag-1}", updated.Parts[0])
	}

	updated, err = repo.AppendPart(ctx, session.ID, 2, "etag-2")
	if err != nil {
		t.Fatalf("AppendPart() error: %v", err)
	}
	if len(updated.Parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(updated.Parts))
	}
	if updated.NextPartNumber() != 3 {
		t.Errorf("NextPartNumber() = %d, want 3", updated.NextPartNumber())
	}

	// updated_at moves with every append.
	got, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if !got.UpdatedAt.After(session.UpdatedAt) {
		t.Errorf("updated_at = %v, want after %v", got.UpdatedAt, session.UpdatedAt)
	}
}

func TestAppendPartDuplicateNumber(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := repo.AppendPart(ctx, session.ID, 1, "etag-1"); err != nil {
		t.Fatalf("AppendPart() error: %v", err)
	}

	_, err := repo.AppendPart(ctx, session.ID, 1, "etag-1b")
	if !errors.Is(err, repository.ErrConcurrentModification) {
		t.Fatalf("duplicate AppendPart() error = %v, want ErrConcurrentModification", err)
	}

	// The losing insert must not have changed anything.
	got, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if len(got.Parts) != 1 || got.Parts[0].ETag != "etag-1" {
		t.Errorf("parts after duplicate = %+v, want single {1 etag-1}", got.Parts)
	}
}

func TestAppendPartPreconditions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	if _, err := repo.AppendPart(ctx, "no-such-id", 1, "etag"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("AppendPart() on missing session error = %v, want ErrNotFound", err)
	}

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.UpdateStatus(ctx, session.ID, models.StatusInProgress, models.StatusAborted); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if _, err := repo.AppendPart(ctx, session.ID, 1, "etag"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("AppendPart() on aborted session error = %v, want ErrInvalidTransition", err)
	}

	if _, err := repo.AppendPart(ctx, session.ID, 0, "etag"); !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("AppendPart() with part 0 error = %v, want ErrInvalidInput", err)
	}
	if _, err := repo.AppendPart(ctx, session.ID, 1, ""); !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("AppendPart() with empty etag error = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := repo.UpdateStatus(ctx, session.ID, models.StatusInProgress, models.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, session.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, models.StatusCompleted)
	}

	// Wrong current status.
	err := repo.UpdateStatus(ctx, session.ID, models.StatusInProgress, models.StatusAborted)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("UpdateStatus() from wrong state error = %v, want ErrInvalidTransition", err)
	}

	// Missing session.
	err = repo.UpdateStatus(ctx, "no-such-id", models.StatusInProgress, models.StatusAborted)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateStatus() on missing session error = %v, want ErrNotFound", err)
	}

	// Unknown status names.
	err = repo.UpdateStatus(ctx, session.ID, "paused", models.StatusAborted)
	if !errors.Is(err, repository.ErrInvalidInput) {
		t.Errorf("UpdateStatus() with bad status error = %v, want ErrInvalidInput", err)
	}
}

func TestCompleteWithDataset(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := repo.AppendPart(ctx, session.ID, 1, "etag-1"); err != nil {
		t.Fatalf("AppendPart() error: %v", err)
	}

	dataset := &models.Dataset{
		ID:         uuid.NewString(),
		OwnerID:    "u1",
		Name:       "readings",
		Format:     "text/csv",
		StorageKey: "uploads/u1/" + session.ID,
		SessionID:  session.ID,
	}
	if err := repo.CompleteWithDataset(ctx, session.ID, dataset); err != nil {
		t.Fatalf("CompleteWithDataset() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, session.ID)
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %q, want %q", got.Status, models.StatusCompleted)
	}

	stored, err := repo.GetDatasetBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetDatasetBySession() error: %v", err)
	}
	if stored == nil {
		t.Fatal("dataset missing after completion")
	}
	if stored.ID != dataset.ID || stored.StorageKey != dataset.StorageKey {
		t.Errorf("dataset = {%s %s}, want {%s %s}", stored.ID, stored.StorageKey, dataset.ID, dataset.StorageKey)
	}

	// Completing again fails and must not duplicate the dataset.
	err = repo.CompleteWithDataset(ctx, session.ID, dataset)
	if !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("second CompleteWithDataset() error = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteWithDatasetAtomicity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	first := testSession("u1")
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	second := testSession("u1")
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	dataset := &models.Dataset{
		ID:         uuid.NewString(),
		OwnerID:    "u1",
		Name:       "readings",
		StorageKey: "uploads/u1/" + first.ID,
	}
	if err := repo.CompleteWithDataset(ctx, first.ID, dataset); err != nil {
		t.Fatalf("CompleteWithDataset() error: %v", err)
	}

	// Reusing the dataset id fails the insert; the status flip in the same
	// transaction must roll back with it.
	if err := repo.CompleteWithDataset(ctx, second.ID, dataset); !errors.Is(err, repository.ErrDuplicateKey) {
		t.Fatalf("CompleteWithDataset() error = %v, want ErrDuplicateKey", err)
	}
	got, _ := repo.GetByID(ctx, second.ID)
	if got.Status != models.StatusInProgress {
		t.Errorf("status after rolled back completion = %q, want %q", got.Status, models.StatusInProgress)
	}
}

func TestSetDataFormat(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	session := testSession("u1")
	if err := repo.Create(ctx, session); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.SetDataFormat(ctx, session.ID, "text/csv"); err != nil {
		t.Fatalf("SetDataFormat() error: %v", err)
	}
	got, _ := repo.GetByID(ctx, session.ID)
	if got.DataFormat != "text/csv" {
		t.Errorf("DataFormat = %q, want %q", got.DataFormat, "text/csv")
	}
}

func TestListByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	mine := testSession("u1")
	if err := repo.Create(ctx, mine); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	theirs := testSession("u2")
	if err := repo.Create(ctx, theirs); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	done := testSession("u1")
	if err := repo.Create(ctx, done); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.UpdateStatus(ctx, done.ID, models.StatusInProgress, models.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if _, err := repo.AppendPart(ctx, mine.ID, 1, "etag-1"); err != nil {
		t.Fatalf("AppendPart() error: %v", err)
	}

	sessions, err := repo.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("ListByOwner() = %d sessions, want 1", len(sessions))
	}
	if sessions[0].ID != mine.ID {
		t.Errorf("ListByOwner()[0].ID = %q, want %q", sessions[0].ID, mine.ID)
	}
	if len(sessions[0].Parts) != 1 {
		t.Errorf("listed session has %d parts, want 1", len(sessions[0].Parts))
	}
}

func TestGetStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUploadRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()

	old := testSession("u1")
	old.CreatedAt = now.Add(-3 * time.Hour)
	old.UpdatedAt = now.Add(-2 * time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	recent := testSession("u1")
	if err := repo.Create(ctx, recent); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	terminal := testSession("u1")
	terminal.CreatedAt = old.CreatedAt
	terminal.UpdatedAt = old.UpdatedAt
	if err := repo.Create(ctx, terminal); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := repo.UpdateStatus(ctx, terminal.ID, models.StatusInProgress, models.StatusAborted); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	stale, err := repo.GetStale(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("GetStale() error: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("GetStale() = %d sessions, want 1", len(stale))
	}
	if stale[0].ID != old.ID {
		t.Errorf("GetStale()[0].ID = %q, want %q", stale[0].ID, old.ID)
	}
}
