package models

import "time"

// Dataset is the permanent record created when an upload session
// completes. StorageKey points at the assembled object in the blob
// store; SessionID links back to the session that produced it.
type Dataset struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Format     string    `json:"format,omitempty"`
	StorageKey string    `json:"storage_key"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
}
