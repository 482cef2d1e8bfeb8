package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

const defaultAttachDir = "attachments"

// AttachmentHandler serves attachment files materialized into the vault.
type AttachmentHandler struct {
	vaultRoot string
	attachDir string
}

// NewAttachmentHandler creates a handler rooted at the vault directory.
func NewAttachmentHandler(vaultRoot, attachDir string) *AttachmentHandler {
	if attachDir == "" {
		attachDir = defaultAttachDir
	}
	return &AttachmentHandler{vaultRoot: vaultRoot, attachDir: attachDir}
}

func (h *AttachmentHandler) attachPath() string {
	return filepath.Join(h.vaultRoot, filepath.FromSlash(h.attachDir))
}

// plainName rejects anything that is not a single path element.
func plainName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid name: %s", name)
	}
	return cleaned, nil
}

// safePath returns the absolute path of key/filename under the attachments dir.
func (h *AttachmentHandler) safePath(key, filename string) (string, error) {
	k, err := plainName(key)
	if err != nil {
		return "", err
	}
	f, err := plainName(filename)
	if err != nil {
		return "", err
	}
	base := h.attachPath()
	abs := filepath.Join(base, k, f)
	if !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes attachments directory")
	}
	return abs, nil
}

// ServeFile handles GET /attachments/{key}/{filename}.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, err := h.safePath(chi.URLParam(r, "key"), chi.URLParam(r, "filename"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if info, statErr := os.Stat(abs); statErr != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}
