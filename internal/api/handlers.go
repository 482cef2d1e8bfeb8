package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/engine"
	"github.com/starford/refsync/internal/models"
)

// Syncer is the engine surface the API drives.
type Syncer interface {
	RunFullCycle(ctx context.Context, opts engine.RunOptions) (models.Outcome, error)
	RunSingleRecord(ctx context.Context, key string) (models.Outcome, error)
	ClearAllBaselines(ctx context.Context) error
	Status() engine.Status
}

// Handler holds API route handlers.
type Handler struct {
	syncer Syncer
}

// NewHandler creates a new Handler.
func NewHandler(syncer Syncer) *Handler {
	return &Handler{syncer: syncer}
}

// SyncLibrary handles POST /sync.
//
//	@Summary		Run a sync cycle
//	@Tags			sync
//	@Produce		json
//	@Param			full	query		bool	false	"Ignore the library cursor and check every tagged record"
//	@Success		200		{object}	SyncResponse
//	@Failure		409		{object}	SyncResponse
//	@Security		BearerAuth
//	@Router			/sync [post]
func (h *Handler) SyncLibrary(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	// A started cycle runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	out, err := h.syncer.RunFullCycle(ctx, engine.RunOptions{FullScan: full})
	writeOutcome(w, out, err)
}

// SyncItem handles POST /sync/items/{key}.
//
//	@Summary		Sync one record
//	@Tags			sync
//	@Produce		json
//	@Param			key	path		string	true	"Record key"
//	@Success		200	{object}	SyncResponse
//	@Failure		409	{object}	SyncResponse
//	@Security		BearerAuth
//	@Router			/sync/items/{key} [post]
func (h *Handler) SyncItem(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("key is required"))
		return
	}
	out, err := h.syncer.RunSingleRecord(context.WithoutCancel(r.Context()), key)
	writeOutcome(w, out, err)
}

// ClearState handles DELETE /sync/state.
//
//	@Summary		Forget all sync baselines
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	ClearResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sync/state [delete]
func (h *Handler) ClearState(w http.ResponseWriter, r *http.Request) {
	if err := h.syncer.ClearAllBaselines(r.Context()); err != nil {
		if errors.Is(err, apperr.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, errorBody(err.Error()))
			return
		}
		slog.Error("clear sync state failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{Cleared: true})
}

// Status handles GET /sync/status.
//
//	@Summary		Engine state and last outcome
//	@Tags			sync
//	@Produce		json
//	@Success		200	{object}	engine.Status
//	@Security		BearerAuth
//	@Router			/sync/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.syncer.Status())
}

func writeOutcome(w http.ResponseWriter, out models.Outcome, err error) {
	resp := SyncResponse{Outcome: out, Summary: out.Summary()}
	switch {
	case err == nil && out.Notice != "":
		writeJSON(w, http.StatusConflict, resp)
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, apperr.ErrConfiguration):
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
	default:
		slog.Error("sync failed", slog.String("error", err.Error()))
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
	}
}
