// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/refsync/internal/api"
	"github.com/starford/refsync/internal/apperr"
	"github.com/starford/refsync/internal/assets"
	"github.com/starford/refsync/internal/engine"
	"github.com/starford/refsync/internal/mcpserver"
	"github.com/starford/refsync/internal/models"
	"github.com/starford/refsync/internal/remote"
	"github.com/starford/refsync/internal/render"
	"github.com/starford/refsync/internal/sse"
	"github.com/starford/refsync/internal/statedb"
	"github.com/starford/refsync/internal/storage"
	"github.com/starford/refsync/internal/syncstate"
	"github.com/starford/refsync/internal/tagmerge"
	"github.com/starford/refsync/internal/watcher"
)

// runtime is the wired set of components shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *statedb.DB
	engine *engine.Engine

	closers []io.Closer
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func newLogger(cfg *Config, out io.Writer) (*slog.Logger, io.Closer) {
	if out == nil {
		out = os.Stdout
	}
	var closer io.Closer
	if cfg.App.LogFile.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.App.LogFile.Path,
			MaxSize:    cfg.App.LogFile.MaxSizeMB,
			MaxBackups: cfg.App.LogFile.MaxBackups,
			MaxAge:     cfg.App.LogFile.MaxAgeDays,
			Compress:   cfg.App.LogFile.Compress,
		}
		out = io.MultiWriter(out, rotating)
		closer = rotating
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	})), closer
}

func setup(ctx context.Context, opts ...Option) (_ *runtime, err error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger, logCloser := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, logger: logger}
	if logCloser != nil {
		rt.closers = append(rt.closers, logCloser)
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("vault_folder", cfg.Vault.Folder),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("library_type", cfg.Remote.LibraryType),
		slog.String("sync_tag", cfg.Remote.SyncTag),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	rt.store = store

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := statedb.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init state db: %w", err)
	}
	rt.db = db
	rt.closers = append(rt.closers, db)

	state, err := syncstate.Open(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	renderer, err := render.New(cfg.Render.TemplatePath)
	if err != nil {
		return nil, err
	}

	deps := engine.Deps{
		Renderer: renderer,
		Store:    store,
		State:    state,
		Assets:   assets.NewSource(cfg.Sync.AssetSourceDir, cfg.Vault.AttachmentsDir),
		Logger:   logger,
	}

	httpClient := app.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Remote.Timeout}
	}
	client, err := remote.NewClient(remote.Options{
		BaseURL:     cfg.Remote.BaseURL,
		LibraryType: cfg.Remote.LibraryType,
		LibraryID:   cfg.Remote.LibraryID,
		APIKey:      cfg.Remote.APIKey,
		PageSize:    cfg.Remote.PageSize,
		MaxRetries:  cfg.Remote.MaxRetries,
		HTTPClient:  httpClient,
		Logger:      logger,
	})
	switch {
	case err == nil:
		deps.Remote = client
	case errors.Is(err, apperr.ErrConfiguration):
		// Cycles report the configuration error until the library is set up.
		logger.Warn("remote library not configured", slog.String("error", err.Error()))
	default:
		return nil, fmt.Errorf("init remote: %w", err)
	}

	eng, err := engine.New(engine.Config{
		SyncTag:         cfg.Remote.SyncTag,
		Folder:          cfg.Vault.Folder,
		FirstSyncPolicy: tagmerge.Policy(cfg.Sync.FirstSyncPolicy),
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	rt.engine = eng
	return rt, nil
}

func logOutcome(logger *slog.Logger, msg string, out models.Outcome) {
	attrs := []any{
		slog.Int("created", out.Created),
		slog.Int("updated", out.Updated),
		slog.Int("skipped", out.Skipped),
		slog.Int("errors", len(out.Errors)),
	}
	if out.Notice != "" {
		attrs = append(attrs, slog.String("notice", out.Notice))
	}
	logger.Info(msg, attrs...)
	for _, e := range out.Errors {
		logger.Warn("record failed", slog.String("key", e.Key), slog.String("error", e.Message))
	}
}

// outcomeErr turns a cycle's record errors into a command error.
func outcomeErr(out models.Outcome, err error) error {
	if err != nil {
		return err
	}
	if len(out.Errors) > 0 {
		return errors.New(out.Summary())
	}
	return nil
}

// SyncOnce runs a single cycle and returns its outcome.
func SyncOnce(ctx context.Context, full bool, opts ...Option) (models.Outcome, error) {
	rt, err := setup(ctx, opts...)
	if err != nil {
		return models.Outcome{}, err
	}
	defer rt.Close()

	out, err := rt.engine.RunFullCycle(ctx, engine.RunOptions{FullScan: full})
	logOutcome(rt.logger, "sync: cycle finished", out)
	return out, outcomeErr(out, err)
}

// SyncItem refreshes the document of one record.
func SyncItem(ctx context.Context, key string, opts ...Option) (models.Outcome, error) {
	rt, err := setup(ctx, opts...)
	if err != nil {
		return models.Outcome{}, err
	}
	defer rt.Close()

	out, err := rt.engine.RunSingleRecord(ctx, key)
	logOutcome(rt.logger, "sync: record finished", out)
	return out, outcomeErr(out, err)
}

// ClearState drops every baseline and the library cursor.
func ClearState(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.engine.ClearAllBaselines(ctx); err != nil {
		return err
	}
	rt.logger.Info("sync: state cleared")
	return nil
}

// ServeMCP serves the sync tools over stdio until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, append([]Option{WithLogOutput(os.Stderr)}, opts...)...)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.engine, rt.store).ServeStdio()
}

// Run starts the HTTP server, the scheduler and the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	rt, err := setup(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger, eng := rt.cfg, rt.logger, rt.engine

	broker := sse.NewBroker(250 * time.Millisecond)
	defer broker.Close()
	unsubscribe := eng.Subscribe(broker.Forward)
	defer unsubscribe()

	apiRouter := api.NewRouter(eng, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker,
		cfg.Vault.Path, cfg.Vault.AttachmentsDir)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := rt.db.Stats(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Sync.WatchLocalEdits {
		g.Go(func() error {
			err := watcher.Watch(gCtx, rt.store, eng, watcher.Options{
				Root:     rt.store.Root(),
				Dir:      eng.Folder(),
				Pattern:  cfg.Vault.WatchPattern,
				Debounce: cfg.Sync.WatchDebounce,
				Logger:   logger,
			})
			if err != nil {
				// The server stays useful without the watcher.
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		schedule(gCtx, eng, cfg.Sync, logger)
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the scheduler and watcher stop with the
// HTTP server.
var errShutdown = errors.New("shutdown")

// cycleRunner is the part of the engine the scheduler drives.
type cycleRunner interface {
	RunFullCycle(ctx context.Context, opts engine.RunOptions) (models.Outcome, error)
}

// schedule runs a cycle every cfg.Interval until ctx is done. Ticks that land
// while a cycle is running are rejected by the engine and only logged.
func schedule(ctx context.Context, eng cycleRunner, cfg SyncConfig, logger *slog.Logger) {
	tick := func() {
		out, err := eng.RunFullCycle(ctx, engine.RunOptions{})
		if err != nil {
			logger.Error("scheduler: cycle failed", slog.String("error", err.Error()))
			return
		}
		logOutcome(logger, "scheduler: cycle finished", out)
	}

	if cfg.RunOnStart {
		tick()
	}
	if cfg.Interval <= 0 {
		logger.Info("scheduler: disabled")
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
