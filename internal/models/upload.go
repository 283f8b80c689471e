package models

import "time"

// Upload session status values. Sessions start in progress and move to
// exactly one of the terminal states; there is no way back.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAborted    = "aborted"
)

// ValidStatuses is the set of allowed session status values.
var ValidStatuses = map[string]bool{
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusAborted:    true,
}

// UploadPart is one registered chunk of a multipart upload session.
// PartNumber starts at 1 and is unique within a session; ETag is the
// opaque integrity token returned by the object store.
type UploadPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
}

// UploadSession represents one multipart upload attempt, spanning a
// remote object-store upload and a local record of its progress.
type UploadSession struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"owner_id"`
	DataName       string       `json:"data_name"`
	DataFormat     string       `json:"data_format,omitempty"`
	RemoteUploadID string       `json:"-"` // set once at creation, never changes
	Parts          []UploadPart `json:"parts,omitempty"`
	Status         string       `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NextPartNumber returns the part number the next chunk should be
// uploaded under: one past the highest registered number, starting at 1.
// This is deliberately not len(Parts)+1, so numbers are never reused
// after a partially failed attempt left a gap.
func (s *UploadSession) NextPartNumber() int {
	max := 0
	for _, p := range s.Parts {
		if p.PartNumber > max {
			max = p.PartNumber
		}
	}
	return max + 1
}

// StartUploadRequest is the request body for opening an upload session.
type StartUploadRequest struct {
	DataName string `json:"data_name"`
}

// UploadSessionResponse is the response returned by the session
// lifecycle endpoints.
type UploadSessionResponse struct {
	ID        string     `json:"id"`
	DataName  string     `json:"data_name"`
	Status    string     `json:"status,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
