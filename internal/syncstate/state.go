// Package syncstate holds the durable sync state: the per-record version
// baseline, the per-record reconciled tag baseline and the global library
// version cursor.
//
// Mutations go through VersionBaselines and TagBaselines, each of which
// persists synchronously through the injected Persister before returning.
package syncstate

import (
	"maps"
	"slices"
	"sync"
)

// VersionBaseline is the last remote version fully processed for a record.
type VersionBaseline struct {
	Version int64 `json:"version"`
}

// TagBaseline is the merged tag set written by the last reconciliation.
type TagBaseline struct {
	Tags []string `json:"tags"`
}

// State is the in-memory sync state. Writers are serialised by the engine's
// single-flight guard; the lock only protects concurrent readers such as the
// vault watcher.
type State struct {
	mu sync.RWMutex

	libraryVersion int64
	versions       map[string]VersionBaseline
	tags           map[string]TagBaseline

	reset          bool
	libraryPending bool
	versionPending map[string]struct{}
	tagPending     map[string]struct{}
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		versions:       make(map[string]VersionBaseline),
		tags:           make(map[string]TagBaseline),
		versionPending: make(map[string]struct{}),
		tagPending:     make(map[string]struct{}),
	}
}

// SeedLibraryVersion sets the library cursor without marking it pending.
// Persisters use the Seed methods while loading.
func (s *State) SeedLibraryVersion(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraryVersion = v
}

// SeedVersion sets a record's version baseline without marking it pending.
func (s *State) SeedVersion(key string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[key] = VersionBaseline{Version: v}
}

// SeedTags sets a record's tag baseline without marking it pending.
func (s *State) SeedTags(key string, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = TagBaseline{Tags: slices.Clone(tags)}
}

// Changes is the set of mutations not yet persisted.
type Changes struct {
	// Reset means every stored row must be dropped before applying the rest.
	Reset          bool
	LibraryVersion int64
	LibraryChanged bool
	Versions       map[string]VersionBaseline
	Tags           map[string]TagBaseline
}

// Empty reports whether there is nothing to persist.
func (c Changes) Empty() bool {
	return !c.Reset && !c.LibraryChanged && len(c.Versions) == 0 && len(c.Tags) == 0
}

// Pending returns a copy of the unpersisted mutations.
func (s *State) Pending() Changes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := Changes{
		Reset:          s.reset,
		LibraryVersion: s.libraryVersion,
		LibraryChanged: s.libraryPending || s.reset,
		Versions:       make(map[string]VersionBaseline, len(s.versionPending)),
		Tags:           make(map[string]TagBaseline, len(s.tagPending)),
	}
	for k := range s.versionPending {
		ch.Versions[k] = s.versions[k]
	}
	for k := range s.tagPending {
		ch.Tags[k] = TagBaseline{Tags: slices.Clone(s.tags[k].Tags)}
	}
	return ch
}

// MarkPersisted clears the pending set after a successful save.
func (s *State) MarkPersisted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset = false
	s.libraryPending = false
	clear(s.versionPending)
	clear(s.tagPending)
}

// Snapshot is a deep copy of the state, used for reporting and tests.
type Snapshot struct {
	LibraryVersion int64               `json:"library_version"`
	Versions       map[string]int64    `json:"versions"`
	Tags           map[string][]string `json:"tags"`
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		LibraryVersion: s.libraryVersion,
		Versions:       make(map[string]int64, len(s.versions)),
		Tags:           make(map[string][]string, len(s.tags)),
	}
	for k, v := range s.versions {
		snap.Versions[k] = v.Version
	}
	for k, v := range s.tags {
		snap.Tags[k] = slices.Clone(v.Tags)
	}
	return snap
}

// Keys returns every record key that has a version baseline, sorted.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.versions))
}

func (s *State) version(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key]
	return v.Version, ok
}

func (s *State) setVersion(key string, v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.versions[key]; ok && cur.Version >= v {
		return false
	}
	s.versions[key] = VersionBaseline{Version: v}
	s.versionPending[key] = struct{}{}
	return true
}

func (s *State) library() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.libraryVersion
}

func (s *State) setLibrary(v int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v <= s.libraryVersion {
		return false
	}
	s.libraryVersion = v
	s.libraryPending = true
	return true
}

func (s *State) tagsOf(key string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(t.Tags), true
}

func (s *State) setTags(key string, tags []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tags == nil {
		tags = []string{}
	}
	s.tags[key] = TagBaseline{Tags: slices.Clone(tags)}
	s.tagPending[key] = struct{}{}
}

func (s *State) clearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.libraryVersion = 0
	clear(s.versions)
	clear(s.tags)
	clear(s.versionPending)
	clear(s.tagPending)
	s.libraryPending = false
	s.reset = true
}
