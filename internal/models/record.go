// Package models defines the domain types for refsync.
package models

// Item types that never get a document of their own.
const (
	ItemTypeAttachment = "attachment"
	ItemTypeNote       = "note"
	ItemTypeAnnotation = "annotation"
)

// Record is a bibliographic entry as seen from the remote library.
// It is a read-only snapshot; the remote assigns Version on every mutation.
type Record struct {
	Key         string         `json:"key"`
	Version     int64          `json:"version"`
	ItemType    string         `json:"item_type"`
	ParentKey   string         `json:"parent_key,omitempty"`
	Title       string         `json:"title,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	NumChildren int            `json:"num_children,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// IsTopLevel reports whether the record is a standalone entry rather than a
// derived child (attachment, note, annotation).
func (r Record) IsTopLevel() bool {
	if r.ParentKey != "" {
		return false
	}
	switch r.ItemType {
	case ItemTypeAttachment, ItemTypeNote, ItemTypeAnnotation:
		return false
	}
	return true
}

// String returns a field from Data, or "" when missing or not a string.
func (r Record) String(field string) string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data[field].(string)
	return s
}

// ChangeSet is the result of a candidate fetch.
type ChangeSet struct {
	Records []Record
	// LibraryVersion is the global version reported by the remote, 0 if absent.
	LibraryVersion int64
	// NotModified is set when nothing changed since the requested version.
	NotModified bool
}
