// Package watcher turns local edits of synced documents' tag headers into
// single-record sync runs.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/starford/refsync/internal/checksum"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/parser"
	"github.com/starford/refsync/internal/storage"
	"github.com/starford/refsync/internal/tagmerge"
)

// Target is the part of the engine the watcher drives.
type Target interface {
	IsOwnWrite(path, sum string) bool
	TagBaseline(key string) ([]string, bool)
	RunSingleRecord(ctx context.Context, key string) (models.Outcome, error)
}

// Options configures Watch.
type Options struct {
	// Root is the absolute vault root the store is rooted at.
	Root string
	// Dir is the vault-relative folder to watch.
	Dir string
	// Pattern filters vault-relative paths. Defaults to **/*.md.
	Pattern  string
	Debounce time.Duration
	Logger   *slog.Logger
}

const defaultDebounce = 500 * time.Millisecond

// Watch runs until ctx is cancelled. Create and write events on documents
// whose header tags no longer match the tag baseline schedule a debounced
// RunSingleRecord for the document's key; runs rejected because a cycle is
// in progress are retried after another debounce interval.
func Watch(ctx context.Context, store storage.Provider, target Target, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "**/*.md"
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("watcher: invalid pattern %q", pattern)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	dir := filepath.Join(opts.Root, filepath.FromSlash(opts.Dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", dir))

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerC = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerC:
			if retry := flush(ctx, target, pending, logger); retry {
				schedule()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			rel, relErr := filepath.Rel(opts.Root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if match, _ := doublestar.Match(pattern, rel); !match {
				continue
			}
			key, drifted := inspect(store, target, rel, logger)
			if !drifted {
				continue
			}
			logger.Debug("watcher: tag edit detected", slog.String("path", rel), slog.String("key", key))
			pending[key] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// inspect reports the document key and whether its header tags drifted
// from the tag baseline. Engine writes and unsynced documents never drift.
func inspect(store storage.Provider, target Target, rel string, logger *slog.Logger) (string, bool) {
	data, err := store.Read(rel)
	if err != nil {
		logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return "", false
	}
	if target.IsOwnWrite(rel, checksum.Sum(data)) {
		return "", false
	}
	h, err := parser.ParseHeader(data)
	if err != nil || h.Key == "" {
		return "", false
	}
	baseline, ok := target.TagBaseline(h.Key)
	if !ok {
		return h.Key, false
	}
	return h.Key, !tagmerge.Equal(h.Tags, baseline)
}

// flush runs every pending key in order. It returns true when some runs
// were rejected and remain pending.
func flush(ctx context.Context, target Target, pending map[string]struct{}, logger *slog.Logger) bool {
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		out, err := target.RunSingleRecord(ctx, key)
		if err != nil {
			logger.Error("watcher: sync failed", slog.String("key", key), slog.String("error", err.Error()))
			delete(pending, key)
			continue
		}
		if out.Notice != "" {
			logger.Debug("watcher: sync busy, will retry", slog.String("key", key))
			continue
		}
		delete(pending, key)
		logger.Info("watcher: synced local tag edit",
			slog.String("key", key),
			slog.String("summary", out.Summary()))
	}
	return len(pending) > 0
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
