package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/storage"
)

func attachment(key, name string) models.Record {
	return models.Record{
		Key:       key,
		ItemType:  models.ItemTypeAttachment,
		ParentKey: "P1",
		Data:      map[string]any{"filename": name, "contentType": "application/pdf"},
	}
}

func setup(t *testing.T) (*Source, *storage.FS, string) {
	t.Helper()
	src := t.TempDir()
	vault, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	return NewSource(src, ""), vault, src
}

func writeSource(t *testing.T, dir, key, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, key), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, key, name), []byte(body), 0o644))
}

func TestVaultPath(t *testing.T) {
	s := NewSource("", "files/")
	p, err := s.VaultPath(attachment("ATT1", "paper.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "files/ATT1/paper.pdf", p)

	_, err = s.VaultPath(attachment("ATT1", "../escape.pdf"))
	assert.Error(t, err)
	_, err = s.VaultPath(attachment("ATT1", ""))
	assert.Error(t, err)
}

func TestMaterializeCopiesAvailableFiles(t *testing.T) {
	s, vault, src := setup(t)
	writeSource(t, src, "ATT1", "paper.pdf", "%PDF")

	children := []models.Record{
		attachment("ATT1", "paper.pdf"),
		attachment("ATT2", "missing.pdf"),
		{Key: "N1", ItemType: models.ItemTypeNote},
	}
	got, err := s.Materialize(context.Background(), vault, children)
	require.NoError(t, err)
	assert.Equal(t, []string{"attachments/ATT1/paper.pdf"}, got)

	data, err := vault.Read("attachments/ATT1/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestMaterializeKeepsExisting(t *testing.T) {
	s, vault, _ := setup(t)
	require.NoError(t, vault.Write("attachments/ATT1/paper.pdf", []byte("already")))

	got, err := s.Materialize(context.Background(), vault, []models.Record{attachment("ATT1", "paper.pdf")})
	require.NoError(t, err)
	assert.Equal(t, []string{"attachments/ATT1/paper.pdf"}, got)

	data, err := vault.Read("attachments/ATT1/paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "already", string(data))
}

func TestMissingButAvailable(t *testing.T) {
	s, vault, src := setup(t)
	refs := []string{"attachments/ATT1/paper.pdf"}

	missing, err := s.MissingButAvailable(vault, refs)
	require.NoError(t, err)
	assert.False(t, missing, "no source file yet")

	writeSource(t, src, "ATT1", "paper.pdf", "%PDF")
	missing, err = s.MissingButAvailable(vault, refs)
	require.NoError(t, err)
	assert.True(t, missing)

	require.NoError(t, vault.Write("attachments/ATT1/paper.pdf", []byte("%PDF")))
	missing, err = s.MissingButAvailable(vault, refs)
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestNoSourceDir(t *testing.T) {
	s := NewSource("", "")
	vault, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)

	missing, err := s.MissingButAvailable(vault, []string{"attachments/A/x.pdf", "../../etc/passwd"})
	require.NoError(t, err)
	assert.False(t, missing)
}
