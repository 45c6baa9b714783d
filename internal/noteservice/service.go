// Package noteservice wires resolution, rewriting, rendering and publishing
// into the operations every surface (CLI, HTTP, MCP, preview) calls.
package noteservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/imagesub"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/parser"
	"github.com/starford/quill/internal/preview"
	"github.com/starford/quill/internal/publisher"
	"github.com/starford/quill/internal/render"
	"github.com/starford/quill/internal/resolver"
	"github.com/starford/quill/internal/rewriter"
)

// DefaultMaxContentBytes caps inline render requests.
const DefaultMaxContentBytes = 100 * 1024

// Rendered is a note converted to platform HTML.
type Rendered struct {
	Path        string         `json:"path,omitempty"`
	Title       string         `json:"title"`
	HTML        string         `json:"html"`
	Markdown    string         `json:"markdown,omitempty"`
	Warnings    []string       `json:"warnings"`
	Checksum    string         `json:"checksum"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Meta        parser.Meta    `json:"-"`
}

// Config holds the rendering knobs.
type Config struct {
	AttachmentFolder models.AttachmentFolderConfig
	Rewrite          rewriter.Options
	Render           render.Options
	MaxContentBytes  int
}

// Service coordinates storage, the link cache and the publishing client.
type Service struct {
	ns       *index.Namespace
	history  index.History
	resolver *resolver.Resolver
	rewriter *rewriter.Rewriter
	renderer *render.Renderer
	maxBytes int
	logger   *slog.Logger

	pubAPI     publisher.API
	pubFetcher imagesub.Fetcher
	pubOpts    []publisher.Option
	publisher  *publisher.Publisher
	accounts   []models.Account
}

// Option configures a Service.
type Option func(*Service)

// WithHistory stores and lists publishes.
func WithHistory(h index.History) Option {
	return func(s *Service) { s.history = h }
}

// WithPublisher enables publishing to accounts through api. fetcher
// downloads remote images and may be nil.
func WithPublisher(api publisher.API, fetcher imagesub.Fetcher, accounts []models.Account, opts ...publisher.Option) Option {
	return func(s *Service) {
		s.pubAPI = api
		s.pubFetcher = fetcher
		s.accounts = accounts
		s.pubOpts = opts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new note service over ns.
func NewService(ns *index.Namespace, cfg Config, opts ...Option) *Service {
	s := &Service{
		ns:       ns,
		maxBytes: cfg.MaxContentBytes,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxContentBytes
	}
	s.resolver = resolver.New(ns, cfg.AttachmentFolder, s.logger)
	s.rewriter = rewriter.New(s.resolver, ns, cfg.Rewrite, s.logger)
	s.renderer = render.New(cfg.Render)

	if s.pubAPI != nil {
		base := []publisher.Option{
			publisher.WithLocal(s.LoadImage),
			publisher.WithLogger(s.logger),
		}
		if s.history != nil {
			base = append(base, publisher.WithHistory(s.history))
		}
		s.publisher = publisher.New(s.pubAPI, s.pubFetcher, append(base, s.pubOpts...)...)
	}
	return s
}

// RenderFile reads, rewrites and renders the note at path. check, when not
// nil, is consulted after every step and aborts a stale render.
func (s *Service) RenderFile(ctx context.Context, path string, check preview.Checkpoint) (*Rendered, error) {
	if check == nil {
		check = func() error { return nil }
	}
	f, ok := s.ns.LookupByExactPath(path)
	if !ok || !f.IsDocument() {
		return nil, fmt.Errorf("noteservice: %s: %w", path, apperr.ErrNotFound)
	}
	data, err := s.ns.ReadBytes(f)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}
	out, err := s.render(ctx, data, f, s.rewriter, check)
	if err != nil {
		return nil, err
	}
	out.Path = f.Path
	if out.Title == "" {
		out.Title = f.Basename
	}
	return out, nil
}

// RenderText renders inline content as if it lived at the vault root.
// opts overrides the configured rewrite options when not nil.
func (s *Service) RenderText(ctx context.Context, content string, opts *rewriter.Options) (*Rendered, error) {
	if len(content) > s.maxBytes {
		return nil, fmt.Errorf("noteservice: content is %d bytes, limit %d: %w", len(content), s.maxBytes, apperr.ErrTooLarge)
	}
	rw := s.rewriter
	if opts != nil {
		rw = rw.WithOptions(*opts)
	}
	return s.render(ctx, []byte(content), models.FileHandle{}, rw, func() error { return nil })
}

func (s *Service) render(ctx context.Context, data []byte, f models.FileHandle, rw *rewriter.Rewriter, check preview.Checkpoint) (*Rendered, error) {
	parsed, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	md, err := rw.Rewrite(ctx, parsed.Body, f)
	if err != nil {
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}
	html, err := s.renderer.Render(md)
	if err != nil {
		return nil, err
	}
	if err := check(); err != nil {
		return nil, err
	}
	return &Rendered{
		Title:       parsed.Title,
		HTML:        html,
		Markdown:    md,
		Warnings:    nonNilSlice(render.Warnings(parsed.Body)),
		Checksum:    checksum.Sum(data),
		Frontmatter: parsed.Frontmatter,
		Meta:        parsed.Meta,
	}, nil
}

// RewriteOptions returns the configured rewrite options.
func (s *Service) RewriteOptions() rewriter.Options {
	return s.rewriter.Options()
}

// PreviewRender adapts RenderFile to a preview session.
func (s *Service) PreviewRender(ctx context.Context, source string, check preview.Checkpoint) (preview.Update, error) {
	r, err := s.RenderFile(ctx, source, check)
	if err != nil {
		return preview.Update{}, err
	}
	return preview.Update{HTML: r.HTML, Warnings: r.Warnings}, nil
}

// Resolve looks up a link target as seen from the note at source.
func (s *Service) Resolve(name, source string) (models.FileHandle, bool) {
	from := models.FileHandle{}
	if source != "" {
		from = models.NewFileHandle(source)
	}
	return s.resolver.Resolve(name, from)
}

// LoadImage reads a vault image referenced by a rendered document.
func (s *Service) LoadImage(_ context.Context, ref string) ([]byte, string, error) {
	f, ok := s.resolver.Resolve(ref, models.FileHandle{})
	if !ok {
		return nil, "", fmt.Errorf("noteservice: image %q: %w", ref, apperr.ErrNotFound)
	}
	data, err := s.ns.ReadBytes(f)
	if err != nil {
		return nil, "", err
	}
	return data, f.Name(), nil
}

// Accounts lists the configured accounts.
func (s *Service) Accounts() []models.Account {
	return s.accounts
}

// Publish renders the note at path and creates a draft in every selected
// account. An empty selection means every enabled account.
func (s *Service) Publish(ctx context.Context, path string, accountNames []string) ([]publisher.Result, error) {
	if s.publisher == nil {
		return nil, fmt.Errorf("%w: publishing is not configured", apperr.ErrConfig)
	}
	accounts, err := s.selectAccounts(accountNames)
	if err != nil {
		return nil, err
	}
	r, err := s.RenderFile(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	doc := publisher.Document{
		Source:   models.NewFileHandle(r.Path),
		Title:    r.Title,
		HTML:     r.HTML,
		Meta:     r.Meta,
		Checksum: r.Checksum,
	}
	return s.publisher.PublishToAll(ctx, doc, accounts)
}

func (s *Service) selectAccounts(names []string) ([]models.Account, error) {
	if len(names) == 0 {
		return s.accounts, nil
	}
	var out []models.Account
	for _, name := range names {
		found := false
		for _, a := range s.accounts {
			if strings.EqualFold(a.Name, name) || a.AppID == name {
				// An explicit selection publishes even if the account is disabled
				// in config.
				a.Enabled = true
				out = append(out, a)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("noteservice: account %q: %w", name, apperr.ErrNotFound)
		}
	}
	return out, nil
}

// History lists publish records, newest first. An empty path lists all.
func (s *Service) History(ctx context.Context, path string, limit int) ([]models.PublishRecord, error) {
	if s.history == nil {
		return []models.PublishRecord{}, nil
	}
	return s.history.ListPublishes(ctx, path, limit)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
