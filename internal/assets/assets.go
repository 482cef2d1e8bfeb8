// Package assets copies attachment files from a local source directory into
// the vault and reports when referenced files can be restored.
package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/storage"
)

// DefaultVaultDir is the vault folder attachments are copied into.
const DefaultVaultDir = "attachments"

// Source resolves attachment files in a local directory laid out as
// <dir>/<attachmentKey>/<filename>. A Source with an empty Dir has no files.
type Source struct {
	Dir      string
	VaultDir string
}

// NewSource returns a Source reading from dir and writing under vaultDir.
func NewSource(dir, vaultDir string) *Source {
	if vaultDir == "" {
		vaultDir = DefaultVaultDir
	}
	return &Source{Dir: dir, VaultDir: strings.Trim(filepath.ToSlash(vaultDir), "/")}
}

func filename(att models.Record) (string, error) {
	name := att.String("filename")
	if name == "" {
		return "", fmt.Errorf("attachment %s has no filename", att.Key)
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid attachment filename: %s", name)
	}
	return cleaned, nil
}

// VaultPath returns the vault-relative path for an attachment record.
func (s *Source) VaultPath(att models.Record) (string, error) {
	name, err := filename(att)
	if err != nil {
		return "", err
	}
	return path.Join(s.VaultDir, att.Key, name), nil
}

// localPath returns the source file path for a vault path produced by
// VaultPath, or "" when the path is outside the attachments folder.
func (s *Source) localPath(vaultPath string) string {
	if s.Dir == "" {
		return ""
	}
	rel, ok := strings.CutPrefix(path.Clean(vaultPath), s.VaultDir+"/")
	if !ok {
		return ""
	}
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || parts[0] == ".." || parts[1] == ".." {
		return ""
	}
	return filepath.Join(s.Dir, parts[0], parts[1])
}

func (s *Source) available(vaultPath string) bool {
	p := s.localPath(vaultPath)
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Materialize copies every file attachment among children that exists in
// the source into store, skipping ones already present. It returns the vault
// paths present after the call, in children order.
func (s *Source) Materialize(ctx context.Context, store storage.Provider, children []models.Record) ([]string, error) {
	var present []string
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return present, err
		}
		if child.ItemType != models.ItemTypeAttachment || child.String("filename") == "" {
			continue
		}
		vp, err := s.VaultPath(child)
		if err != nil {
			continue
		}
		exists, err := store.Exists(vp)
		if err != nil {
			return present, fmt.Errorf("assets: %w", err)
		}
		if exists {
			present = append(present, vp)
			continue
		}
		if !s.available(vp) {
			continue
		}
		data, err := os.ReadFile(s.localPath(vp))
		if err != nil {
			return present, fmt.Errorf("assets: read %s: %w", vp, err)
		}
		if err := store.Write(vp, data); err != nil {
			return present, fmt.Errorf("assets: write %s: %w", vp, err)
		}
		present = append(present, vp)
	}
	return present, nil
}

// MissingButAvailable reports whether any of the referenced vault paths is
// absent from store while its source file exists.
func (s *Source) MissingButAvailable(store storage.Provider, referenced []string) (bool, error) {
	for _, vp := range referenced {
		if !s.available(vp) {
			continue
		}
		exists, err := store.Exists(vp)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("assets: %w", err)
		}
		if !exists {
			return true, nil
		}
	}
	return false, nil
}
