package syncstate

import (
	"context"
	"fmt"
)

// Persister loads and saves the sync state. Save receives only the
// mutations made since the previous successful save.
type Persister interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, changes Changes) error
}

// Store owns the in-memory State and its persistence port.
type Store struct {
	state   *State
	persist Persister
}

// Open loads the state through p.
func Open(ctx context.Context, p Persister) (*Store, error) {
	st, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncstate: load: %w", err)
	}
	if st == nil {
		st = NewState()
	}
	return &Store{state: st, persist: p}, nil
}

// Versions returns the version baseline store.
func (s *Store) Versions() *VersionBaselines { return &VersionBaselines{store: s} }

// Tags returns the tag baseline store.
func (s *Store) Tags() *TagBaselines { return &TagBaselines{store: s} }

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot { return s.state.Snapshot() }

// ClearAll drops every baseline and resets the library cursor, forcing the
// next cycle to treat every record as new.
func (s *Store) ClearAll(ctx context.Context) error {
	s.state.clearAll()
	return s.save(ctx)
}

func (s *Store) save(ctx context.Context) error {
	ch := s.state.Pending()
	if ch.Empty() {
		return nil
	}
	if err := s.persist.Save(ctx, ch); err != nil {
		return fmt.Errorf("syncstate: save: %w", err)
	}
	s.state.MarkPersisted()
	return nil
}

// VersionBaselines tracks the last processed version per record and the
// global library version.
type VersionBaselines struct {
	store *Store
}

// Get returns the baseline version for key and whether one exists.
func (v *VersionBaselines) Get(key string) (int64, bool) {
	return v.store.state.version(key)
}

// Set records that key was fully processed at version. Lower versions are
// ignored: baselines only move forward.
func (v *VersionBaselines) Set(ctx context.Context, key string, version int64) error {
	if !v.store.state.setVersion(key, version) {
		return nil
	}
	return v.store.save(ctx)
}

// LibraryVersion returns the global cursor, 0 when never synced.
func (v *VersionBaselines) LibraryVersion() int64 {
	return v.store.state.library()
}

// SetLibraryVersion advances the global cursor.
func (v *VersionBaselines) SetLibraryVersion(ctx context.Context, version int64) error {
	if !v.store.state.setLibrary(version) {
		return nil
	}
	return v.store.save(ctx)
}

// TagBaselines tracks the merged tag set of the last reconciliation per record.
type TagBaselines struct {
	store *Store
}

// Get returns the reconciled tags for key. The second result is false until
// the record has been reconciled once.
func (t *TagBaselines) Get(key string) ([]string, bool) {
	return t.store.state.tagsOf(key)
}

// Set replaces the reconciled tags for key.
func (t *TagBaselines) Set(ctx context.Context, key string, tags []string) error {
	t.store.state.setTags(key, tags)
	return t.store.save(ctx)
}
