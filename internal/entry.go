// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/preview"
	"github.com/starford/quill/internal/sse"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := app.logger
	if logger == nil {
		logger = NewLogger(os.Stdout, cfg.App.LogLevel)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("relay_base_url", cfg.Relay.BaseURL),
		slog.Int("accounts", len(cfg.Accounts)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close components", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(ctx)

	// SSE broker and the preview session feeding it.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	session := preview.NewSession(gCtx, c.Service.PreviewRender, broker.PublishPreview,
		preview.WithDebounce(cfg.Preview.Debounce),
		preview.WithLogger(logger),
	)

	deps := api.Deps{
		Service:         c.Service,
		Store:           c.Store,
		Preview:         session,
		Importer:        c.Importer,
		Events:          broker,
		AuthEnabled:     cfg.Auth.AuthEnabled(),
		Token:           cfg.Auth.Token,
		RenderAPIKey:    cfg.Auth.RenderAPIKey,
		MaxContentBytes: cfg.Render.MaxContentBytes,
		UploadDir:       cfg.Vault.UploadDir(),
		Logger:          logger,
	}
	if c.Polisher != nil {
		deps.Polisher = c.Polisher
	}

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.DB.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(deps))
	r.Mount("/storage", api.NewStorageRouter(c.DB, cfg.Auth.StorageToken(), logger))

	if cfg.Relay.Enabled {
		relay, err := api.NewRelay(cfg.Relay.Upstream, cfg.Relay.Timeout, logger)
		if err != nil {
			return fmt.Errorf("init relay: %w", err)
		}
		r.Handle("/cgi-bin/*", relay)
	}

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// Start file watcher; note changes also refresh the live preview.
	g.Go(func() error {
		err := index.Watch(gCtx, c.DB, c.Store, c.Store.Root(), logger, func(kind, p string) {
			broker.PublishFileEvent(kind, p)
			if kind != "deleted" && path.Ext(p) == ".md" {
				session.Notify(p)
			}
		})
		if err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
		return nil
	})

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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()
		session.Close()
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
