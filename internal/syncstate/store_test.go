package syncstate

import (
	"context"
	"errors"
	"testing"
)

func openMemory(t *testing.T) (*Store, *MemoryPersister) {
	t.Helper()
	p := NewMemoryPersister()
	s, err := Open(context.Background(), p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, p
}

func TestVersionBaselines_SetPersists(t *testing.T) {
	s, p := openMemory(t)
	ctx := context.Background()

	if _, ok := s.Versions().Get("R1"); ok {
		t.Fatal("expected no baseline for unseen record")
	}
	if err := s.Versions().Set(ctx, "R1", 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok := s.Versions().Get("R1")
	if !ok || v != 5 {
		t.Errorf("baseline = %d, %v; want 5, true", v, ok)
	}
	if pv, _ := p.Version("R1"); pv != 5 {
		t.Errorf("persisted = %d, want 5", pv)
	}
}

func TestVersionBaselines_NeverDecrements(t *testing.T) {
	s, p := openMemory(t)
	ctx := context.Background()
	_ = s.Versions().Set(ctx, "R1", 9)
	saves := p.Saves()

	if err := s.Versions().Set(ctx, "R1", 4); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := s.Versions().Get("R1"); v != 9 {
		t.Errorf("baseline = %d, want 9", v)
	}
	if p.Saves() != saves {
		t.Error("no-op set should not hit the persister")
	}
}

func TestLibraryVersion_Monotonic(t *testing.T) {
	s, _ := openMemory(t)
	ctx := context.Background()
	_ = s.Versions().SetLibraryVersion(ctx, 100)
	_ = s.Versions().SetLibraryVersion(ctx, 50)
	if got := s.Versions().LibraryVersion(); got != 100 {
		t.Errorf("library version = %d, want 100", got)
	}
}

func TestTagBaselines_AbsentUntilSet(t *testing.T) {
	s, _ := openMemory(t)
	if _, ok := s.Tags().Get("R1"); ok {
		t.Fatal("tag baseline should be absent before first reconciliation")
	}
	_ = s.Tags().Set(context.Background(), "R1", nil)
	tags, ok := s.Tags().Get("R1")
	if !ok {
		t.Fatal("empty tag baseline must still count as present")
	}
	if len(tags) != 0 {
		t.Errorf("tags = %v, want empty", tags)
	}
}

func TestClearAll_ResetsEverything(t *testing.T) {
	s, p := openMemory(t)
	ctx := context.Background()
	_ = s.Versions().Set(ctx, "R1", 5)
	_ = s.Tags().Set(ctx, "R1", []string{"x"})
	_ = s.Versions().SetLibraryVersion(ctx, 42)

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, ok := s.Versions().Get("R1"); ok {
		t.Error("version baseline survived clear")
	}
	if _, ok := s.Tags().Get("R1"); ok {
		t.Error("tag baseline survived clear")
	}
	if s.Versions().LibraryVersion() != 0 {
		t.Error("library version survived clear")
	}
	if _, ok := p.Version("R1"); ok {
		t.Error("persisted version survived clear")
	}
	if p.LibraryVersion() != 0 {
		t.Error("persisted library version survived clear")
	}

	// After a clear the baseline may start again from a lower version.
	_ = s.Versions().Set(ctx, "R1", 1)
	if v, _ := s.Versions().Get("R1"); v != 1 {
		t.Errorf("baseline after clear = %d, want 1", v)
	}
}

func TestReopen_RestoresState(t *testing.T) {
	s, p := openMemory(t)
	ctx := context.Background()
	_ = s.Versions().Set(ctx, "R1", 7)
	_ = s.Tags().Set(ctx, "R1", []string{"a", "b"})
	_ = s.Versions().SetLibraryVersion(ctx, 70)

	s2, err := Open(ctx, p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	snap := s2.Snapshot()
	if snap.LibraryVersion != 70 || snap.Versions["R1"] != 7 {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := snap.Tags["R1"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("tags = %v, want [a b]", got)
	}
}

func TestSaveFailure_KeepsPending(t *testing.T) {
	s, p := openMemory(t)
	ctx := context.Background()
	p.FailSave = errors.New("disk full")

	if err := s.Versions().Set(ctx, "R1", 3); err == nil {
		t.Fatal("expected save error")
	}
	p.FailSave = nil
	if err := s.Tags().Set(ctx, "R2", []string{"t"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := p.Version("R1"); !ok || v != 3 {
		t.Errorf("pending version not flushed on next save: %d, %v", v, ok)
	}
}
