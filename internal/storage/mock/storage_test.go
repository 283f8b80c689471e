package mock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/storage"
)

func TestMultipartLifecycle(t *testing.T) {
	store := NewMultipartStore()
	ctx := context.Background()

	id, err := store.Begin(ctx, "uploads/u1/s1")
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if id == "" {
		t.Fatal("Begin() returned empty id")
	}

	var parts []storage.Part
	for i, chunk := range []string{"first,", "second,", "third"} {
		etag, err := store.UploadPart(ctx, "uploads/u1/s1", id, i+1, strings.NewReader(chunk), int64(len(chunk)))
		if err != nil {
			t.Fatalf("UploadPart(%d) error: %v", i+1, err)
		}
		if etag == "" {
			t.Fatalf("UploadPart(%d) returned empty etag", i+1)
		}
		parts = append(parts, storage.Part{PartNumber: i + 1, ETag: etag})
	}

	if err := store.Complete(ctx, "uploads/u1/s1", id, parts); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	content, ok := store.Object("uploads/u1/s1")
	if !ok {
		t.Fatal("object missing after complete")
	}
	if string(content) != "first,second,third" {
		t.Errorf("assembled content = %q, want parts in order", content)
	}
	if store.HasUpload(id) {
		t.Error("upload still open after complete")
	}
}

func TestCompleteMissingPart(t *testing.T) {
	store := NewMultipartStore()
	ctx := context.Background()

	id, err := store.Begin(ctx, "uploads/u1/s1")
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}

	err = store.Complete(ctx, "uploads/u1/s1", id, []storage.Part{{PartNumber: 1, ETag: "ghost"}})
	var storageErr *storage.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("Complete() error = %v, want StorageError", err)
	}
}

func TestUploadPartUnknownID(t *testing.T) {
	store := NewMultipartStore()

	_, err := store.UploadPart(context.Background(), "k", "bogus", 1, strings.NewReader("x"), 1)
	if err == nil {
		t.Fatal("UploadPart() with unknown id succeeded, want error")
	}
}

func TestListInProgress(t *testing.T) {
	store := NewMultipartStore()
	ctx := context.Background()

	id1, _ := store.Begin(ctx, "uploads/u1/a")
	id2, _ := store.Begin(ctx, "uploads/u1/b")
	store.SetInitiatedAt(id1, time.Now().Add(-time.Hour))

	seen := make(map[string]storage.InProgressUpload)
	err := store.ListInProgress(ctx, func(u storage.InProgressUpload) error {
		seen[u.RemoteUploadID] = u
		return nil
	})
	if err != nil {
		t.Fatalf("ListInProgress() error: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("saw %d uploads, want 2", len(seen))
	}
	if seen[id1].Key != "uploads/u1/a" {
		t.Errorf("key = %q, want uploads/u1/a", seen[id1].Key)
	}
	if seen[id1].InitiatedAt.After(seen[id2].InitiatedAt) {
		t.Error("rewound initiation time not reflected")
	}

	// Callback errors stop the walk.
	stop := errors.New("stop")
	err = store.ListInProgress(ctx, func(u storage.InProgressUpload) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("ListInProgress() error = %v, want callback error", err)
	}
}
