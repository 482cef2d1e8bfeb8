// Package engine drives sync cycles between the remote library and the vault.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/render"
	"github.com/starford/refsync/internal/storage"
	"github.com/starford/refsync/internal/syncstate"
	"github.com/starford/refsync/internal/tagmerge"
)

// RemoteLibrary is the remote side of a sync.
type RemoteLibrary interface {
	FetchChangedRecords(ctx context.Context, tag string, since int64) (models.ChangeSet, error)
	FetchRecord(ctx context.Context, key string) (models.Record, error)
	FetchChildren(ctx context.Context, key string) ([]models.Record, error)
	// PushTags returns the record's version after the write.
	PushTags(ctx context.Context, key string, tags []string, expectedVersion int64) (int64, error)
}

// Renderer turns a record into document text.
type Renderer interface {
	Render(rec models.Record, children []models.Record, ctx render.Context) (string, error)
}

// Assets copies attachment files into the vault.
type Assets interface {
	Materialize(ctx context.Context, store storage.Provider, children []models.Record) ([]string, error)
	MissingButAvailable(store storage.Provider, referenced []string) (bool, error)
}

// Config holds the per-library settings of the engine.
type Config struct {
	// SyncTag marks records that are in scope. It is required.
	SyncTag string
	// Folder is the vault folder documents are written to.
	Folder string
	// FirstSyncPolicy applies when a record has no tag baseline yet.
	FirstSyncPolicy tagmerge.Policy
}

// Deps are the collaborators of an Engine. Remote may be nil when the remote
// library is not configured; every cycle then fails with a configuration
// error. Assets may be nil.
type Deps struct {
	Remote   RemoteLibrary
	Renderer Renderer
	Store    storage.Provider
	State    *syncstate.Store
	Assets   Assets
	Logger   *slog.Logger
}

// Phase is the engine's state.
type Phase int32

const (
	Idle Phase = iota
	Running
)

func (p Phase) String() string {
	if p == Running {
		return "running"
	}
	return "idle"
}

// Status is a point-in-time view of the engine.
type Status struct {
	State          string          `json:"state"`
	LibraryVersion int64           `json:"library_version"`
	Records        int             `json:"records"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	LastOutcome    *models.Outcome `json:"last_outcome,omitempty"`
}

// Engine reconciles remote records into vault documents. At most one cycle
// runs at a time; a trigger while Running is rejected, never queued.
type Engine struct {
	cfg      Config
	remote   RemoteLibrary
	renderer Renderer
	store    storage.Provider
	state    *syncstate.Store
	assets   Assets
	merger   tagmerge.Merger
	logger   *slog.Logger

	phase atomic.Int32

	mu          sync.Mutex
	lastOutcome *models.Outcome
	lastRunAt   time.Time
	written     map[string]string
	subs        map[int]ProgressFunc
	nextSub     int
}

// New creates an Engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Renderer == nil || deps.Store == nil || deps.State == nil {
		return nil, fmt.Errorf("engine: renderer, store and state are required")
	}
	policy, err := tagmerge.ParsePolicy(string(cfg.FirstSyncPolicy))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	cfg.SyncTag = strings.TrimSpace(cfg.SyncTag)
	cfg.Folder = strings.Trim(path.Clean("/"+strings.TrimSpace(cfg.Folder)), "/")
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		remote:   deps.Remote,
		renderer: deps.Renderer,
		store:    deps.Store,
		state:    deps.State,
		assets:   deps.Assets,
		merger:   tagmerge.Merger{Policy: policy},
		logger:   logger,
		written:  make(map[string]string),
		subs:     make(map[int]ProgressFunc),
	}, nil
}

// DocumentPath returns the vault-relative path of the document for key.
func (e *Engine) DocumentPath(key string) string {
	return path.Join(e.cfg.Folder, key+".md")
}

// Folder is the vault folder documents live in.
func (e *Engine) Folder() string { return e.cfg.Folder }

// TagBaseline returns the last reconciled tags for key.
func (e *Engine) TagBaseline(key string) ([]string, bool) {
	return e.state.Tags().Get(key)
}

// IsOwnWrite reports whether the document at path with the given checksum
// was last written by the engine.
func (e *Engine) IsOwnWrite(docPath, sum string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written[docPath] == sum
}

func (e *Engine) rememberWrite(docPath, sum string) {
	e.mu.Lock()
	e.written[docPath] = sum
	e.mu.Unlock()
}

// Phase returns the current state.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// LastOutcome returns the outcome of the last completed cycle, if any.
func (e *Engine) LastOutcome() (models.Outcome, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastOutcome == nil {
		return models.Outcome{}, false
	}
	return *e.lastOutcome, true
}

// Status reports the phase, cursor and last outcome.
func (e *Engine) Status() Status {
	snap := e.state.Snapshot()
	st := Status{
		State:          e.Phase().String(),
		LibraryVersion: snap.LibraryVersion,
		Records:        len(snap.Versions),
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastOutcome != nil {
		out := *e.lastOutcome
		at := e.lastRunAt
		st.LastOutcome = &out
		st.LastRunAt = &at
	}
	return st
}

func (e *Engine) checkConfig() error {
	if e.remote == nil {
		return fmt.Errorf("%w: remote library is not configured", apperr.ErrConfiguration)
	}
	if e.cfg.SyncTag == "" {
		return fmt.Errorf("%w: sync tag is required", apperr.ErrConfiguration)
	}
	return nil
}
