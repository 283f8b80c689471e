// Package mock provides a mock implementation of the storage.MultipartStore
// interface for testing. This allows tests to run without a real object
// store and provides configurable behavior.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rgeorgiev/sensorvault/internal/storage"
)

// upload is one in-memory multipart upload.
type upload struct {
	key         string
	initiatedAt time.Time
	parts       map[int][]byte
	completed   bool
}

// MultipartStore is a mock implementation of storage.MultipartStore for
// testing. It keeps all state in memory and provides error injection
// fields for failure-path tests.
type MultipartStore struct {
	mu sync.Mutex

	uploads map[string]*upload // remoteUploadID -> upload
	objects map[string][]byte  // key -> assembled content
	nextID  int

	// Error injection for testing
	BeginError          error
	UploadPartError     error
	CompleteError       error
	AbortError          error
	ListInProgressError error

	// EmptyETag makes UploadPart succeed at the wire level but hand back
	// no etag, which callers must treat as failure.
	EmptyETag bool

	// Call counters
	BeginCalls      int
	UploadPartCalls int
	CompleteCalls   int
	AbortCalls      int
}

// Ensure MultipartStore implements storage.MultipartStore
var _ storage.MultipartStore = (*MultipartStore)(nil)

// NewMultipartStore creates a new mock MultipartStore with default behavior.
func NewMultipartStore() *MultipartStore {
	return &MultipartStore{
		uploads: make(map[string]*upload),
		objects: make(map[string][]byte),
	}
}

// Begin opens an in-memory multipart upload and returns its id.
func (m *MultipartStore) Begin(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BeginCalls++
	if m.BeginError != nil {
		return "", m.BeginError
	}

	m.nextID++
	id := fmt.Sprintf("mock-upload-%d", m.nextID)
	m.uploads[id] = &upload{
		key:         key,
		initiatedAt: time.Now(),
		parts:       make(map[int][]byte),
	}
	return id, nil
}

// UploadPart stores part bytes and returns a deterministic fake etag.
func (m *MultipartStore) UploadPart(ctx context.Context, key, remoteUploadID string, partNumber int, data io.Reader, size int64) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", storage.NewStorageError("UploadPart", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.UploadPartCalls++
	if m.UploadPartError != nil {
		return "", m.UploadPartError
	}
	if m.EmptyETag {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, nil, "no etag returned for part")
	}

	up, ok := m.uploads[remoteUploadID]
	if !ok {
		return "", storage.NewStorageErrorWithMessage("UploadPart", key, nil, "unknown upload id")
	}
	up.parts[partNumber] = content

	return fmt.Sprintf("etag-%s-%d", remoteUploadID, partNumber), nil
}

// Complete assembles the parts in part-number order into an object.
func (m *MultipartStore) Complete(ctx context.Context, key, remoteUploadID string, parts []storage.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompleteCalls++
	if m.CompleteError != nil {
		return m.CompleteError
	}

	up, ok := m.uploads[remoteUploadID]
	if !ok {
		return storage.NewStorageErrorWithMessage("Complete", key, nil, "unknown upload id")
	}

	var assembled []byte
	for _, p := range parts {
		content, ok := up.parts[p.PartNumber]
		if !ok {
			return storage.NewStorageErrorWithMessage("Complete", key, nil,
				fmt.Sprintf("part %d missing", p.PartNumber))
		}
		assembled = append(assembled, content...)
	}

	m.objects[key] = assembled
	up.completed = true
	delete(m.uploads, remoteUploadID)
	return nil
}

// Abort discards an upload. An unknown id is success, matching S3 semantics.
func (m *MultipartStore) Abort(ctx context.Context, key, remoteUploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AbortCalls++
	if m.AbortError != nil {
		return m.AbortError
	}

	delete(m.uploads, remoteUploadID)
	return nil
}

// ListInProgress walks every open upload.
func (m *MultipartStore) ListInProgress(ctx context.Context, fn func(storage.InProgressUpload) error) error {
	m.mu.Lock()
	if m.ListInProgressError != nil {
		m.mu.Unlock()
		return m.ListInProgressError
	}
	snapshot := make([]storage.InProgressUpload, 0, len(m.uploads))
	for id, up := range m.uploads {
		snapshot = append(snapshot, storage.InProgressUpload{
			Key:            up.key,
			RemoteUploadID: id,
			InitiatedAt:    up.initiatedAt,
		})
	}
	m.mu.Unlock()

	for _, u := range snapshot {
		if err := fn(u); err != nil {
			return err
		}
	}
	return nil
}

// SetInitiatedAt rewinds an open upload's initiation time for staleness tests.
func (m *MultipartStore) SetInitiatedAt(remoteUploadID string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if up, ok := m.uploads[remoteUploadID]; ok {
		up.initiatedAt = t
	}
}

// Object returns the assembled content for a key, if Complete was called.
func (m *MultipartStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.objects[key]
	return content, ok
}

// OpenUploads returns the number of uploads currently held open.
func (m *MultipartStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// HasUpload reports whether the given remote upload id is still open.
func (m *MultipartStore) HasUpload(remoteUploadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.uploads[remoteUploadID]
	return ok
}

// PartCount returns the number of parts stored for an open upload.
func (m *MultipartStore) PartCount(remoteUploadID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if up, ok := m.uploads[remoteUploadID]; ok {
		return len(up.parts)
	}
	return 0
}
