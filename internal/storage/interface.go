// Package storage provides abstraction for the object store's multipart
// upload protocol. This enables different backends (S3, MinIO, in-memory
// for tests) without changing the orchestration code.
package storage

import (
	"context"
	"io"
	"time"
)

// Part identifies one uploaded part of a multipart upload as the object
// store knows it: its 1-based number and the etag returned when it was
// uploaded.
type Part struct {
	PartNumber int
	ETag       string
}

// InProgressUpload describes a multipart upload the object store
// currently holds open. It may have no corresponding local record, e.g.
// when a crash landed between opening the remote upload and writing the
// local row.
type InProgressUpload struct {
	Key            string
	RemoteUploadID string
	InitiatedAt    time.Time
}

// MultipartStore defines the interface over a key-addressed object
// store's multipart upload operations.
type MultipartStore interface {
	// Begin opens a multipart upload for the given key and returns the
	// store-assigned upload id.
	Begin(ctx context.Context, key string) (string, error)

	// UploadPart uploads one part and returns its etag. A response that
	// carries no etag is a failure, never an empty success.
	UploadPart(ctx context.Context, key, remoteUploadID string, partNumber int, data io.Reader, size int64) (string, error)

	// Complete assembles the uploaded parts into the final object.
	Complete(ctx context.Context, key, remoteUploadID string, parts []Part) error

	// Abort discards a multipart upload and its parts. Aborting an unknown
	// or already-aborted upload is treated as success.
	Abort(ctx context.Context, key, remoteUploadID string) error

	// ListInProgress walks every multipart upload the store holds open,
	// calling fn for each. Iteration stops early if fn returns an error.
	ListInProgress(ctx context.Context, fn func(InProgressUpload) error) error
}

// StorageError represents errors from object store operations with
// additional context.
type StorageError struct {
	Op      string // Operation that failed (e.g., "Begin", "UploadPart")
	Key     string // Storage key involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{
		Op:  op,
		Key: key,
		Err: err,
	}
}

// NewStorageErrorWithMessage creates a new StorageError with a custom message.
func NewStorageErrorWithMessage(op, key string, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Key:     key,
		Err:     err,
		Message: message,
	}
}
