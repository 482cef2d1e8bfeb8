package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/checksum"
	"github.com/starford/refsync/internal/detect"
	"github.com/starford/refsync/internal/document"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/parser"
	"github.com/starford/refsync/internal/render"
	"github.com/starford/refsync/internal/tagmerge"
)

// Side condition names.
const (
	ConditionTagDrift      = "tag_drift"
	ConditionMissingAssets = "missing_assets"
)

// readDocument returns the current document text and whether it exists.
func (c *cycle) readDocument(docPath string) (string, bool, error) {
	data, err := c.e.store.Read(docPath)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (c *cycle) decide(rec models.Record) detect.Decision {
	e := c.e
	docPath := e.DocumentPath(rec.Key)
	baseline, hasBaseline := e.state.Versions().Get(rec.Key)

	exists, err := e.store.Exists(docPath)
	if err != nil {
		return detect.Decision{Action: detect.Process, Reason: detect.ReasonMissingDocument, Err: err}
	}

	var (
		header    *parser.Header
		headerErr error
		loaded    bool
	)
	loadHeader := func() (*parser.Header, error) {
		if loaded {
			return header, headerErr
		}
		loaded = true
		data, err := e.store.Read(docPath)
		if err != nil {
			headerErr = err
			return nil, err
		}
		header, headerErr = parser.ParseHeader(data)
		return header, headerErr
	}

	conditions := []detect.SideCondition{{
		Name: ConditionTagDrift,
		Check: func() (bool, error) {
			tags, ok := e.state.Tags().Get(rec.Key)
			if !ok {
				return true, nil
			}
			h, err := loadHeader()
			if err != nil {
				// An unreadable header cannot match the baseline.
				return true, nil
			}
			return !tagmerge.Equal(h.Tags, tags), nil
		},
	}}
	if e.assets != nil {
		conditions = append(conditions, detect.SideCondition{
			Name: ConditionMissingAssets,
			Check: func() (bool, error) {
				h, err := loadHeader()
				if err != nil || len(h.Attachments) == 0 {
					return false, nil
				}
				return e.assets.MissingButAvailable(e.store, h.Attachments)
			},
		})
	}

	return detect.Decide(detect.Input{
		Version:         rec.Version,
		BaselineVersion: baseline,
		HasBaseline:     hasBaseline,
		DocumentExists:  exists,
		SideConditions:  conditions,
	})
}

// documentTags returns the tag set the merge treats as the document side.
// A missing document, or one without a header, carries no local intent: the
// tag baseline stands in for it so nothing is pushed as a local deletion.
// A header that is present but malformed fails the record.
func (c *cycle) documentTags(key, existing string, exists bool, baseline []string, hasBaseline bool) ([]string, error) {
	if exists {
		h, err := parser.ParseHeader([]byte(existing))
		switch {
		case err == nil:
			return h.Tags, nil
		case errors.Is(err, parser.ErrNoHeader):
			c.logger.Warn("engine: document has no header, regenerating", slog.String("key", key))
		default:
			return nil, fmt.Errorf("document header: %w", err)
		}
	}
	if hasBaseline {
		return baseline, nil
	}
	return nil, nil
}

// processRecord reconciles tags, renders and writes the document for rec,
// then advances its tag and version baselines. It returns the write kind, or "" when
// the regenerated document equals the existing one.
func (c *cycle) processRecord(ctx context.Context, rec models.Record) (string, error) {
	e := c.e
	docPath := e.DocumentPath(rec.Key)

	var children []models.Record
	if rec.NumChildren > 0 {
		kids, err := e.remote.FetchChildren(ctx, rec.Key)
		if err != nil {
			return "", fmt.Errorf("fetch children: %w", err)
		}
		children = kids
	}

	// Read as late as possible so concurrent edits are picked up.
	existing, exists, err := c.readDocument(docPath)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	remoteTags := tagmerge.Without(rec.Tags, e.cfg.SyncTag)
	baseline, hasBaseline := e.state.Tags().Get(rec.Key)
	docTags, err := c.documentTags(rec.Key, existing, exists, baseline, hasBaseline)
	if err != nil {
		return "", err
	}
	merged := e.merger.Merge(remoteTags, docTags, baseline, hasBaseline)

	version := rec.Version
	if merged.Push {
		payload := tagmerge.PushPayload(merged.Tags, rec.Tags, e.cfg.SyncTag)
		newVersion, err := e.remote.PushTags(ctx, rec.Key, payload, rec.Version)
		switch {
		case err == nil:
			version = max(version, newVersion)
			c.logger.Debug("engine: pushed tags", slog.String("key", rec.Key), slog.Int64("version", version))
		case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrForbidden):
			c.logger.Warn("engine: tag push rejected, keeping local merge",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()))
		default:
			return "", fmt.Errorf("push tags: %w", err)
		}
	}

	var attachments []string
	if e.assets != nil {
		attachments, err = e.assets.Materialize(ctx, e.store, children)
		if err != nil {
			return "", fmt.Errorf("materialize assets: %w", err)
		}
	}

	text, err := e.renderer.Render(rec, children, render.Context{Tags: merged.Tags, Attachments: attachments})
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	final := document.Compose(existing, text)

	kind := KindCreated
	if exists {
		kind = KindUpdated
		if final == existing {
			kind = ""
		}
	}
	if kind != "" {
		content := []byte(final)
		if err := e.store.Write(docPath, content); err != nil {
			return "", fmt.Errorf("write document: %w", err)
		}
		e.rememberWrite(docPath, checksum.Sum(content))
	}

	// Baselines move only once the document reflects the merge.
	if err := e.state.Tags().Set(ctx, rec.Key, merged.Tags); err != nil {
		return "", fmt.Errorf("save tag baseline: %w", err)
	}
	if err := e.state.Versions().Set(ctx, rec.Key, version); err != nil {
		return "", fmt.Errorf("save version baseline: %w", err)
	}
	if kind != "" {
		e.emit(Event{Type: EventRecordWritten, Mode: c.mode, Key: rec.Key, Path: docPath, Kind: kind})
	}
	return kind, nil
}
