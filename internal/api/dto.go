package api

import "github.com/starford/refsync/internal/models"

// SyncResponse is the payload of the sync endpoints.
type SyncResponse struct {
	Outcome models.Outcome `json:"outcome"`
	Summary string         `json:"summary"`
	Error   string         `json:"error,omitempty"`
}

// ClearResponse is returned by DELETE /sync/state.
type ClearResponse struct {
	Cleared bool `json:"cleared"`
}
