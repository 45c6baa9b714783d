// Package publisher turns a rendered document into platform drafts, one per
// account, and runs accounts in parallel.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/imagesub"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/mpclient"
	"github.com/starford/quill/internal/parser"
)

// ErrNoCover is returned when neither the document nor the account library
// offers a cover image.
var ErrNoCover = errors.New("publisher: no cover image: set `cover` in frontmatter or upload an image material")

// API is the remote platform surface used by a publish.
type API interface {
	Token(ctx context.Context, appID, secret string) (string, error)
	InvalidateToken(appID string)
	UploadImage(ctx context.Context, token string, data []byte, filename string) (string, error)
	UploadCover(ctx context.Context, token string, data []byte, filename string) (string, error)
	FirstImageMaterial(ctx context.Context, token string) (string, bool, error)
	AddDraft(ctx context.Context, token string, a mpclient.Article) (string, error)
}

// History stores successful publishes.
type History interface {
	RecordPublish(ctx context.Context, r models.PublishRecord) error
}

// Document is a rendered note ready to publish.
type Document struct {
	Source   models.FileHandle
	Title    string
	HTML     string
	Meta     parser.Meta
	Checksum string
}

// Result is the outcome for one account.
type Result struct {
	Account string `json:"account"`
	AppID   string `json:"app_id"`
	Success bool   `json:"success"`
	MediaID string `json:"media_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Publisher is safe for concurrent use.
type Publisher struct {
	api           API
	fetcher       imagesub.Fetcher
	images        *imagesub.Substituter
	local         imagesub.LocalFunc
	history       History
	defaultAuthor string
	logger        *slog.Logger

	mu      sync.Mutex
	secrets map[string]string // app id -> last secret used
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLocal loads vault images and covers.
func WithLocal(fn imagesub.LocalFunc) Option {
	return func(p *Publisher) { p.local = fn }
}

// WithHistory records successful drafts.
func WithHistory(h History) Option {
	return func(p *Publisher) { p.history = h }
}

// WithDefaultAuthor is used when neither frontmatter nor account sets one.
func WithDefaultAuthor(author string) Option {
	return func(p *Publisher) { p.defaultAuthor = author }
}

// WithSubstituter replaces the default image substituter.
func WithSubstituter(s *imagesub.Substituter) Option {
	return func(p *Publisher) { p.images = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// New creates a Publisher. fetcher downloads remote images and covers and
// may be nil.
func New(api API, fetcher imagesub.Fetcher, opts ...Option) *Publisher {
	p := &Publisher{
		api:     api,
		fetcher: fetcher,
		logger:  slog.Default(),
		secrets: make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	if p.images == nil {
		p.images = imagesub.New(fetcher, imagesub.WithLogger(p.logger))
	}
	if p.local != nil {
		p.images = p.images.WithLocal(p.local)
	}
	return p
}

// PublishToAll publishes doc to every enabled account concurrently. Results
// follow the order of the enabled accounts; one failure never affects the
// others.
func (p *Publisher) PublishToAll(ctx context.Context, doc Document, accounts []models.Account) ([]Result, error) {
	var enabled []models.Account
	for _, a := range accounts {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("%w: no enabled accounts", apperr.ErrConfig)
	}

	results := make([]Result, len(enabled))
	var g errgroup.Group
	for i, acct := range enabled {
		g.Go(func() error {
			results[i] = p.Publish(ctx, doc, acct)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	p.logger.Info("publisher: fan-out done",
		slog.String("source", doc.Source.Path),
		slog.Int("accounts", len(results)),
		slog.Int("succeeded", ok))
	return results, nil
}

// Publish runs the full sequence for a single account: token, cover,
// images, draft.
func (p *Publisher) Publish(ctx context.Context, doc Document, acct models.Account) Result {
	res := Result{Account: acct.DisplayName(), AppID: acct.AppID}
	mediaID, err := p.publish(ctx, doc, acct)
	if err != nil {
		if mpclient.IsCredentialError(err) {
			p.api.InvalidateToken(acct.AppID)
		}
		p.logger.Warn("publisher: publish failed",
			slog.String("account", res.Account),
			slog.String("source", doc.Source.Path),
			slog.String("error", err.Error()))
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.MediaID = mediaID
	return res
}

func (p *Publisher) publish(ctx context.Context, doc Document, acct models.Account) (string, error) {
	if strings.TrimSpace(acct.AppID) == "" {
		return "", fmt.Errorf("%w: account %s: app_id is empty", apperr.ErrConfig, acct.DisplayName())
	}
	if strings.TrimSpace(acct.AppSecret) == "" {
		return "", fmt.Errorf("%w: account %s: app_secret is empty", apperr.ErrConfig, acct.DisplayName())
	}
	p.trackSecret(acct.AppID, acct.AppSecret)

	token, err := p.api.Token(ctx, acct.AppID, acct.AppSecret)
	if err != nil {
		return "", err
	}

	thumb, err := p.cover(ctx, token, doc)
	if err != nil {
		return "", err
	}

	sub := p.images.Substitute(ctx, doc.HTML, func(ctx context.Context, t models.ImageTask) (string, error) {
		return p.api.UploadImage(ctx, token, t.Payload, t.SuggestedFilename)
	})

	article := mpclient.Article{
		Title:            doc.title(),
		Content:          sub.HTML,
		ThumbMediaID:     thumb,
		Author:           firstNonEmpty(doc.Meta.Author, acct.DefaultAuthor, p.defaultAuthor),
		Digest:           doc.Meta.Digest,
		ContentSourceURL: doc.Meta.SourceURL,
	}
	mediaID, err := p.api.AddDraft(ctx, token, article)
	if err != nil {
		return "", err
	}

	if p.history != nil {
		rec := models.PublishRecord{
			Source:   doc.Source.Path,
			Account:  acct.DisplayName(),
			AppID:    acct.AppID,
			MediaID:  mediaID,
			Title:    article.Title,
			Checksum: doc.Checksum,
		}
		if err := p.history.RecordPublish(ctx, rec); err != nil {
			p.logger.Warn("publisher: record history", slog.String("error", err.Error()))
		}
	}
	return mediaID, nil
}

// cover returns a thumb media id: the frontmatter cover if set, else the
// first image in the account library.
func (p *Publisher) cover(ctx context.Context, token string, doc Document) (string, error) {
	ref := strings.TrimSpace(doc.Meta.Cover)
	if ref == "" {
		id, ok, err := p.api.FirstImageMaterial(ctx, token)
		if err != nil {
			return "", fmt.Errorf("publisher: list materials: %w", err)
		}
		if !ok {
			return "", ErrNoCover
		}
		return id, nil
	}

	data, name, err := p.loadCover(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("publisher: load cover %q: %w", ref, err)
	}
	return p.api.UploadCover(ctx, token, data, name)
}

func (p *Publisher) loadCover(ctx context.Context, ref string) ([]byte, string, error) {
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if p.fetcher == nil {
			return nil, "", fmt.Errorf("%w: remote covers are disabled", apperr.ErrConfig)
		}
		data, err := p.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, "", err
		}
		name := "cover.jpg"
		if u, err := url.Parse(ref); err == nil && path.Ext(u.Path) != "" {
			name = path.Base(u.Path)
		}
		return data, name, nil
	}
	if p.local == nil {
		return nil, "", apperr.ErrNotFound
	}
	// Obsidian-style covers may be written as ![[name]] or [[name]].
	ref = strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(ref, "!"), "[["), "]]")
	data, name, err := p.local(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		name = path.Base(ref)
	}
	return data, name, nil
}

// trackSecret drops the cached token when an app id shows up with a new
// secret.
func (p *Publisher) trackSecret(appID, secret string) {
	p.mu.Lock()
	prev, seen := p.secrets[appID]
	p.secrets[appID] = secret
	p.mu.Unlock()
	if seen && prev != secret {
		p.logger.Info("publisher: credentials changed, dropping cached token", slog.String("app_id", appID))
		p.api.InvalidateToken(appID)
	}
}

func (d Document) title() string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	if d.Meta.Title != "" {
		return d.Meta.Title
	}
	if d.Source.Basename != "" {
		return d.Source.Basename
	}
	return "Untitled"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
