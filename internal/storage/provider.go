// Package storage defines the vault document store.
package storage

// Document is a lightweight listing entry.
type Document struct {
	Path     string
	Checksum string
}

// Provider is the document store used by the sync engine. It deliberately
// has no delete or move: synced documents are never removed.
type Provider interface {
	// Read returns the raw bytes at path (relative to vault root). The error
	// wraps os.ErrNotExist when the document is absent.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to vault root).
	Write(path string, content []byte) error
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// List returns every file under dir matching the glob pattern.
	List(dir, pattern string) ([]Document, error)
}
