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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/arvore/internal/api"
	"github.com/starford/arvore/internal/cache"
	"github.com/starford/arvore/internal/chart"
	"github.com/starford/arvore/internal/familysearch"
	"github.com/starford/arvore/internal/familyservice"
	"github.com/starford/arvore/internal/graphstore"
	"github.com/starford/arvore/internal/index"
	"github.com/starford/arvore/internal/mcpserver"
	"github.com/starford/arvore/internal/records"
	"github.com/starford/arvore/internal/sse"
	"github.com/starford/arvore/internal/storage"
)

// runtime is everything built from the configuration that needs closing.
type runtime struct {
	store   index.PeopleIndex
	backend *cache.BadgerBackend
	files   *records.FileSource
	dirs    []*storage.Dir
	svc     *familyservice.Service
}

func (r *runtime) Close() {
	for _, d := range r.dirs {
		_ = d.Close()
	}
	if r.backend != nil {
		_ = r.backend.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(os.Stdout, cfg.App.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("records_mode", cfg.Records.Mode),
		slog.String("cache_path", cfg.Cache.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2*time.Second, sse.WithHeartbeat(15*time.Second))
	defer broker.Close()

	rt, err := build(ctx, cfg, logger, broker)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := rt.store.Ping(req.Context()); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes under /api/v1.
	r.Mount("/api/v1", api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch fixture files and drop stale searches on change.
	if rt.files != nil && cfg.Records.Watch {
		g.Go(func() error {
			return records.Watch(gCtx, rt.files, cfg.Records.FixturesDir, logger, func(kind, cpf string) {
				rt.svc.RecordChanged(gCtx, kind, cpf)
			})
		})
	}

	// Start HTTP server.
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

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Closing the broker ends open SSE streams so Shutdown can drain.
		broker.Close()

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

// errShutdown cancels the group once shutdown completes so the watcher exits.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio. Logs go to stderr since stdout
// carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(os.Stderr, cfg.App.LogLevel)
	slog.SetDefault(logger)

	rt, err := build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("MCP server starting", slog.String("version", app.version))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// build wires stores, cache, record source, search engine and service.
// events may be nil.
func build(ctx context.Context, cfg *Config, logger *slog.Logger, events familyservice.Publisher) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		rt.Close()
		return nil, err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	rt.store = store

	if !cfg.Cache.InMemory {
		if err := os.MkdirAll(cfg.Cache.Path, 0o755); err != nil {
			return fail(fmt.Errorf("create cache dir: %w", err))
		}
	}
	backend, err := cache.OpenBadger(cache.BadgerConfig{
		Path:       cfg.Cache.Path,
		InMemory:   cfg.Cache.InMemory,
		GCInterval: 10 * time.Minute,
		Logger:     logger,
	})
	if err != nil {
		return fail(fmt.Errorf("init cache: %w", err))
	}
	rt.backend = backend

	source, err := rt.openSource(cfg, logger)
	if err != nil {
		return fail(err)
	}

	adapter := chart.New(source, store, logger, chart.WithAvatar(cfg.Records.Avatar))
	engine := familysearch.New(source, adapter, logger,
		familysearch.WithCache(cache.New(backend, cfg.Cache.Namespace, logger)),
		familysearch.WithBatchSize(cfg.Search.BatchSize),
	)
	rt.svc = familyservice.NewService(engine, adapter, store, events, logger,
		familyservice.WithSearchDefaults(cfg.SearchDefaults()))
	return rt, nil
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (index.PeopleIndex, error) {
	switch cfg.Store.Driver {
	case StoreNeo4j:
		s, err := graphstore.Open(ctx, graphstore.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init graph store: %w", err)
		}
		return s, nil
	default:
		db, err := index.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		return db, nil
	}
}

// openSource builds the record source for cfg.Records.Mode. In file mode it
// sets r.files so the caller can watch it.
func (r *runtime) openSource(cfg *Config, logger *slog.Logger) (records.Source, error) {
	rc := cfg.Records

	if rc.Mode == RecordsFile {
		dir, err := r.openDir(rc.FixturesDir)
		if err != nil {
			return nil, fmt.Errorf("init fixtures: %w", err)
		}
		r.files = records.NewFileSource(dir, logger)
		if _, err := r.files.Sync(); err != nil {
			logger.Warn("initial fixture sync failed", slog.String("error", err.Error()))
		}
		logger.Info("fixtures loaded", slog.Int("records", r.files.Len()))
		return records.WithMetrics(r.files), nil
	}

	var src records.Source = records.NewClient(records.ClientConfig{
		BaseURL:       rc.BaseURL,
		CPFToken:      rc.CPFToken,
		ParentToken:   rc.ParentToken,
		Timeout:       rc.Timeout,
		RatePerSecond: rc.RatePerSecond,
		Burst:         rc.Burst,
		Breaker: records.BreakerConfig{
			MaxRequests:  rc.Breaker.MaxRequests,
			Interval:     rc.Breaker.Interval,
			Timeout:      rc.Breaker.Timeout,
			FailureRatio: rc.Breaker.FailureRatio,
			MinRequests:  rc.Breaker.MinRequests,
		},
	}, nil, logger)

	if rc.RecordDir != "" {
		dir, err := r.openDir(rc.RecordDir)
		if err != nil {
			return nil, fmt.Errorf("init record dir: %w", err)
		}
		src = records.NewRecorder(src, dir, logger)
	}
	return records.WithMetrics(src), nil
}

// openDir creates path if needed and opens it as a fixture directory that
// Close releases.
func (r *runtime) openDir(path string) (*storage.Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	dir, err := storage.OpenDir(path)
	if err != nil {
		return nil, err
	}
	r.dirs = append(r.dirs, dir)
	return dir, nil
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
