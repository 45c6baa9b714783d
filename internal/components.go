package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/quill/internal/imagesub"
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/mpclient"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/polish"
	"github.com/starford/quill/internal/publisher"
	"github.com/starford/quill/internal/storage"
)

// NewLogger builds the JSON logger used by every command.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Components is the wired object graph shared by the server and the
// one-shot commands.
type Components struct {
	Store    *storage.FS
	DB       *index.DB
	NS       *index.Namespace
	Tokens   *mpclient.TokenCache
	Client   *mpclient.Client
	Fetcher  *imagesub.HTTPFetcher
	Service  *noteservice.Service
	Importer *importer.Importer
	// Polisher is nil when no polish endpoint is configured.
	Polisher *polish.Client
}

// Open builds Components from cfg and runs the initial link-cache sync.
// Close releases them.
func Open(cfg *Config, logger *slog.Logger) (*Components, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	c := &Components{
		Store:  store,
		DB:     db,
		NS:     index.NewNamespace(store, db),
		Tokens: mpclient.NewTokenCache(nil),
		Fetcher: imagesub.NewHTTPFetcher(cfg.Relay.Timeout,
			imagesub.WithFetchLogger(logger)),
	}

	c.Client, err = mpclient.New(cfg.Relay.BaseURL,
		mpclient.WithTokenCache(c.Tokens),
		mpclient.WithLogger(logger),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init platform client: %w", err)
	}

	c.Service = noteservice.NewService(c.NS, cfg.ServiceConfig(),
		noteservice.WithHistory(db),
		noteservice.WithLogger(logger),
		noteservice.WithPublisher(c.Client, c.Fetcher, cfg.Accounts,
			publisher.WithDefaultAuthor(cfg.DefaultAuthor),
			publisher.WithSubstituter(imagesub.New(c.Fetcher,
				imagesub.WithCDNMarker(cfg.Relay.CDNMarker),
				imagesub.WithLogger(logger),
			)),
		),
	)

	c.Importer = importer.New(cfg.Importer.Options(), logger)

	if cfg.Polish.Enabled() {
		c.Polisher, err = polish.New(polish.Config{
			Endpoint:    cfg.Polish.Endpoint,
			Model:       cfg.Polish.Model,
			APIKey:      cfg.Polish.APIKey,
			Temperature: cfg.Polish.Temperature,
			MaxTokens:   cfg.Polish.MaxTokens,
			Prompt:      cfg.Polish.Prompt,
			Timeout:     cfg.Polish.Timeout,
		}, logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init polish: %w", err)
		}
	}

	return c, nil
}

// Close drops cached access tokens and closes the database.
func (c *Components) Close() error {
	c.Tokens.Clear()
	return c.DB.Close()
}
