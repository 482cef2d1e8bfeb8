package syncstate

import (
	"context"
	"slices"
	"sync"
)

// MemoryPersister keeps the state in memory. It survives Store re-opens
// within a process, which is enough for dry runs and tests.
type MemoryPersister struct {
	mu       sync.Mutex
	library  int64
	versions map[string]int64
	tags     map[string][]string
	saves    int

	// FailSave, when set, is returned by every Save.
	FailSave error
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		versions: make(map[string]int64),
		tags:     make(map[string][]string),
	}
}

// Load implements Persister.
func (m *MemoryPersister) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := NewState()
	st.SeedLibraryVersion(m.library)
	for k, v := range m.versions {
		st.SeedVersion(k, v)
	}
	for k, t := range m.tags {
		st.SeedTags(k, t)
	}
	return st, nil
}

// Save implements Persister.
func (m *MemoryPersister) Save(_ context.Context, ch Changes) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	m.saves++
	if ch.Reset {
		clear(m.versions)
		clear(m.tags)
	}
	if ch.LibraryChanged {
		m.library = ch.LibraryVersion
	}
	for k, v := range ch.Versions {
		m.versions[k] = v.Version
	}
	for k, t := range ch.Tags {
		m.tags[k] = slices.Clone(t.Tags)
	}
	return nil
}

// Saves returns how many successful saves happened.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Version returns the persisted version for key, for assertions.
func (m *MemoryPersister) Version(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[key]
	return v, ok
}

// LibraryVersion returns the persisted library cursor.
func (m *MemoryPersister) LibraryVersion() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.library
}
