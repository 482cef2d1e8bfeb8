// Package apperr holds the sentinel errors shared across refsync packages.
package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("version conflict")
	ErrForbidden      = errors.New("forbidden")
	ErrConfiguration  = errors.New("configuration error")
	ErrSyncInProgress = errors.New("sync already in progress")
)
