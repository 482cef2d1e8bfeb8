package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// vaultRoot is used to resolve the attachments directory.
func NewRouter(syncer Syncer, authEnabled bool, token string, sseHandler http.Handler, vaultRoot, attachmentsDir string) chi.Router {
	h := NewHandler(syncer)
	ah := NewAttachmentHandler(vaultRoot, attachmentsDir)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/sync", h.SyncLibrary)
	r.Post("/sync/items/{key}", h.SyncItem)
	r.Delete("/sync/state", h.ClearState)
	r.Get("/sync/status", h.Status)

	// Materialized attachments, read-only.
	r.Get("/attachments/{key}/{filename}", ah.ServeFile)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
