package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/detect"
	"github.com/starford/refsync/internal/models"
)

// RunOptions tunes a full cycle.
type RunOptions struct {
	// FullScan ignores the library cursor so every tagged record is
	// checked, including side conditions of unchanged ones. Baselines are
	// kept.
	FullScan bool
}

const (
	modeFull   = "full"
	modeScan   = "scan"
	modeSingle = "single"
)

// cycle is the token for one Running period. Record processing is only
// reachable through it.
type cycle struct {
	e       *Engine
	id      string
	mode    string
	outcome models.Outcome
	logger  *slog.Logger
}

// begin performs the Idle -> Running transition.
func (e *Engine) begin(mode string) (*cycle, bool) {
	if !e.phase.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, false
	}
	id := uuid.NewString()
	c := &cycle{
		e:      e,
		id:     id,
		mode:   mode,
		logger: e.logger.With(slog.String("cycle", id), slog.String("mode", mode)),
	}
	e.emit(Event{Type: EventStarted, Mode: mode})
	return c, true
}

// end records the outcome and returns to Idle.
func (c *cycle) end() models.Outcome {
	out := c.outcome
	c.e.mu.Lock()
	c.e.lastOutcome = &out
	c.e.lastRunAt = time.Now().UTC()
	c.e.mu.Unlock()
	c.e.phase.Store(int32(Idle))
	c.e.emit(Event{Type: EventCompleted, Mode: c.mode, Outcome: &out})
	c.logger.Info("engine: cycle finished", slog.String("summary", out.Summary()))
	return out
}

func rejected() models.Outcome {
	return models.Outcome{Notice: apperr.ErrSyncInProgress.Error()}
}

func (c *cycle) progress(done, total int) {
	c.e.emit(Event{Type: EventProgress, Mode: c.mode, Done: done, Total: total})
}

// RunFullCycle fetches the candidate records and processes those that
// changed. A call while another cycle runs returns an outcome whose Notice
// says so, with no side effects. The returned error is set only for
// failures that abort the whole cycle.
func (e *Engine) RunFullCycle(ctx context.Context, opts RunOptions) (models.Outcome, error) {
	mode := modeFull
	if opts.FullScan {
		mode = modeScan
	}
	c, ok := e.begin(mode)
	if !ok {
		e.logger.Info("engine: cycle rejected, already running")
		return rejected(), nil
	}
	err := c.runFull(ctx, opts)
	return c.end(), err
}

func (c *cycle) runFull(ctx context.Context, opts RunOptions) error {
	e := c.e
	if err := e.checkConfig(); err != nil {
		return err
	}

	versions := e.state.Versions()
	since := versions.LibraryVersion()
	if opts.FullScan {
		since = 0
	}
	set, err := e.remote.FetchChangedRecords(ctx, e.cfg.SyncTag, since)
	if err != nil {
		return fmt.Errorf("engine: fetch changed records: %w", err)
	}
	if set.NotModified {
		c.logger.Debug("engine: library unchanged", slog.Int64("since", since))
		return nil
	}

	eligible := make([]models.Record, 0, len(set.Records))
	for _, rec := range set.Records {
		if rec.Key == "" || !rec.IsTopLevel() {
			continue
		}
		eligible = append(eligible, rec)
	}
	c.logger.Info("engine: processing candidates",
		slog.Int("candidates", len(set.Records)),
		slog.Int("eligible", len(eligible)),
		slog.Int64("since", since))

	for i, rec := range eligible {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("engine: cycle interrupted: %w", err)
		}
		c.progress(i, len(eligible))

		d := c.decide(rec)
		if d.Err != nil {
			c.logger.Warn("engine: side condition check failed",
				slog.String("key", rec.Key),
				slog.String("condition", d.Condition),
				slog.String("error", d.Err.Error()))
		}
		if d.Action == detect.Skip {
			c.outcome.Skipped++
			continue
		}
		c.logger.Debug("engine: processing record", slog.String("key", rec.Key), slog.String("decision", d.String()))
		c.apply(ctx, rec)
	}
	c.progress(len(eligible), len(eligible))

	// A failed record may be older than the new cursor; holding the cursor
	// keeps it in the next incremental fetch.
	if n := len(c.outcome.Errors); n > 0 {
		c.logger.Warn("engine: library version not advanced",
			slog.Int("failed", n),
			slog.Int64("library_version", set.LibraryVersion))
		return nil
	}
	if set.LibraryVersion > versions.LibraryVersion() {
		if err := versions.SetLibraryVersion(ctx, set.LibraryVersion); err != nil {
			c.logger.Error("engine: persist library version", slog.String("error", err.Error()))
			c.outcome.AddError("library", err)
		}
	}
	return nil
}

// apply processes one record and folds the result into the outcome.
func (c *cycle) apply(ctx context.Context, rec models.Record) {
	kind, err := c.processRecord(ctx, rec)
	switch {
	case err != nil:
		c.logger.Error("engine: record failed", slog.String("key", rec.Key), slog.String("error", err.Error()))
		c.outcome.AddError(rec.Key, err)
	case kind == KindCreated:
		c.outcome.Created++
	case kind == KindUpdated:
		c.outcome.Updated++
	default:
		c.outcome.Skipped++
	}
}

// RunSingleRecord fetches and processes one record regardless of its
// baselines.
func (e *Engine) RunSingleRecord(ctx context.Context, key string) (models.Outcome, error) {
	c, ok := e.begin(modeSingle)
	if !ok {
		e.logger.Info("engine: single record run rejected, already running", slog.String("key", key))
		return rejected(), nil
	}
	err := c.runSingle(ctx, key)
	return c.end(), err
}

func (c *cycle) runSingle(ctx context.Context, key string) error {
	e := c.e
	if err := e.checkConfig(); err != nil {
		return err
	}
	c.progress(0, 1)
	rec, err := e.remote.FetchRecord(ctx, key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.outcome.AddError(key, err)
			return nil
		}
		return fmt.Errorf("engine: fetch record %s: %w", key, err)
	}
	if !rec.IsTopLevel() {
		c.outcome.AddError(key, fmt.Errorf("not a top-level record (%s)", rec.ItemType))
		return nil
	}
	c.apply(ctx, rec)
	c.progress(1, 1)
	return nil
}

// ClearAllBaselines forgets every version and tag baseline and the library
// cursor. It is rejected with apperr.ErrSyncInProgress during a cycle.
func (e *Engine) ClearAllBaselines(ctx context.Context) error {
	if !e.phase.CompareAndSwap(int32(Idle), int32(Running)) {
		return apperr.ErrSyncInProgress
	}
	defer e.phase.Store(int32(Idle))

	if err := e.state.ClearAll(ctx); err != nil {
		return fmt.Errorf("engine: clear baselines: %w", err)
	}
	e.mu.Lock()
	e.written = make(map[string]string)
	e.mu.Unlock()
	e.logger.Info("engine: baselines cleared")
	return nil
}
