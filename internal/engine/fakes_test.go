package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/document"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/parser"
	"github.com/starford/refsync/internal/render"
	"github.com/starford/refsync/internal/storage"
	"github.com/starford/refsync/internal/syncstate"
)

const syncTag = "to-sync"

type pushCall struct {
	Key      string
	Tags     []string
	Expected int64
}

type fakeRemote struct {
	mu          sync.Mutex
	records     []models.Record
	children    map[string][]models.Record
	cursor      int64
	trackCursor bool
	pushErr     error
	pushes      []pushCall
	sinces      []int64
	childCalls  int

	block   chan struct{}
	entered chan struct{}
}

func newFakeRemote(records ...models.Record) *fakeRemote {
	return &fakeRemote{records: records, children: map[string][]models.Record{}}
}

func (f *fakeRemote) FetchChangedRecords(_ context.Context, tag string, since int64) (models.ChangeSet, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.trackCursor && since > 0 && since >= f.cursor {
		return models.ChangeSet{LibraryVersion: since, NotModified: true}, nil
	}
	set := models.ChangeSet{LibraryVersion: f.cursor}
	for _, r := range f.records {
		if r.Version <= since {
			continue
		}
		if r.ParentKey == "" && !slices.Contains(r.Tags, tag) {
			continue
		}
		set.Records = append(set.Records, cloneRecord(r))
	}
	return set, nil
}

func (f *fakeRemote) FetchRecord(_ context.Context, key string) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.Key == key {
			return cloneRecord(r), nil
		}
	}
	return models.Record{}, fmt.Errorf("remote: get item %s: %w", key, apperr.ErrNotFound)
}

func (f *fakeRemote) FetchChildren(_ context.Context, key string) ([]models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.childCalls++
	return slices.Clone(f.children[key]), nil
}

func (f *fakeRemote) PushTags(_ context.Context, key string, tags []string, expected int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushCall{Key: key, Tags: slices.Clone(tags), Expected: expected})
	if f.pushErr != nil {
		return 0, f.pushErr
	}
	var top int64
	for _, r := range f.records {
		top = max(top, r.Version)
	}
	for i, r := range f.records {
		if r.Key != key {
			continue
		}
		if r.Version != expected {
			return 0, apperr.ErrConflict
		}
		f.records[i].Version = top + 1
		f.records[i].Tags = slices.Clone(tags)
		if f.trackCursor {
			f.cursor = top + 1
		}
		return top + 1, nil
	}
	return 0, apperr.ErrNotFound
}

// update replaces a record as if edited remotely.
func (f *fakeRemote) update(key string, version int64, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.records {
		if r.Key == key {
			f.records[i].Version = version
			f.records[i].Tags = tags
		}
	}
	if f.trackCursor {
		f.cursor = max(f.cursor, version)
	}
}

func (f *fakeRemote) pushCalls() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pushes)
}

func cloneRecord(r models.Record) models.Record {
	r.Tags = slices.Clone(r.Tags)
	return r
}

func record(key string, version int64, tags ...string) models.Record {
	return models.Record{
		Key:      key,
		Version:  version,
		ItemType: "book",
		Title:    "Title of " + key,
		Tags:     tags,
	}
}

// fakeRenderer writes a minimal document with a flow-style tag list.
type fakeRenderer struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRenderer) Render(rec models.Record, children []models.Record, ctx render.Context) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("---\nitem-key: %s\ntags: [%s]\nattachments: [%s]\n---\n# %s\n\nversion: %d\nchildren: %d\n\n%s\n",
		rec.Key, strings.Join(ctx.Tags, ", "), strings.Join(ctx.Attachments, ", "), rec.Title, rec.Version, len(children), document.EmptyZone), nil
}

// countingStore wraps a Provider to count writes and inject failures.
type countingStore struct {
	storage.Provider
	writes     atomic.Int32
	failWrites atomic.Bool
}

func (s *countingStore) Write(path string, content []byte) error {
	if s.failWrites.Load() {
		return errors.New("disk full")
	}
	s.writes.Add(1)
	return s.Provider.Write(path, content)
}

type fakeAssets struct {
	missing bool
	paths   []string
}

func (a *fakeAssets) Materialize(context.Context, storage.Provider, []models.Record) ([]string, error) {
	a.missing = false
	return a.paths, nil
}

func (a *fakeAssets) MissingButAvailable(storage.Provider, []string) (bool, error) {
	return a.missing, nil
}

type harness struct {
	eng      *Engine
	remote   *fakeRemote
	store    *countingStore
	persist  *syncstate.MemoryPersister
	state    *syncstate.Store
	renderer *fakeRenderer
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	persist := syncstate.NewMemoryPersister()
	state, err := syncstate.Open(context.Background(), persist)
	require.NoError(t, err)

	h := &harness{
		remote:   remote,
		store:    &countingStore{Provider: fs},
		persist:  persist,
		state:    state,
		renderer: &fakeRenderer{},
	}
	h.eng, err = New(Config{SyncTag: syncTag, Folder: "refs"}, Deps{
		Remote:   remote,
		Renderer: h.renderer,
		Store:    h.store,
		State:    state,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T) models.Outcome {
	t.Helper()
	out, err := h.eng.RunFullCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	return out
}

func (h *harness) docHeader(t *testing.T, key string) *parser.Header {
	t.Helper()
	data, err := h.store.Read(h.eng.DocumentPath(key))
	require.NoError(t, err)
	hdr, err := parser.ParseHeader(data)
	require.NoError(t, err)
	return hdr
}

func (h *harness) readDoc(t *testing.T, key string) string {
	t.Helper()
	data, err := h.store.Read(h.eng.DocumentPath(key))
	require.NoError(t, err)
	return string(data)
}

func (h *harness) writeDoc(t *testing.T, key, content string) {
	t.Helper()
	require.NoError(t, h.store.Provider.Write(h.eng.DocumentPath(key), []byte(content)))
}
