// Package testutil provides shared test helpers for setting up vaults and sync state.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/starford/refsync/internal/statedb"
	"github.com/starford/refsync/internal/storage"
	"github.com/starford/refsync/internal/syncstate"
)

// TestDB creates a SQLite state database in a temp dir that is closed on cleanup.
func TestDB(t *testing.T) *statedb.DB {
	t.Helper()
	return OpenDB(t, filepath.Join(t.TempDir(), "refsync-test.db"))
}

// OpenDB opens the database at path and closes it on cleanup. Opening the
// same path twice in a test simulates a restart.
func OpenDB(t *testing.T, path string) *statedb.DB {
	t.Helper()
	db, err := statedb.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestState loads a syncstate.Store backed by db.
func TestState(t *testing.T, db *statedb.DB) *syncstate.Store {
	t.Helper()
	st, err := syncstate.Open(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// TestVault creates a temporary vault directory with a storage provider.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}
