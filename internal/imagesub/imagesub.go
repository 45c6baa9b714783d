// Package imagesub uploads every image an HTML document references and
// rewrites each <img src> to the hosted URL.
//
// Work happens in three phases. Preparation resolves every occurrence to
// bytes concurrently. Uploads then run in fixed-size batches, each batch
// finishing before the next starts. Finally each successful upload replaces
// exactly the span of its own occurrence; failures leave the original src.
package imagesub

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/textspan"
)

// DefaultBatchSize is the number of uploads in flight at once.
const DefaultBatchSize = 5

// DefaultCDNMarker identifies images already hosted by the platform.
const DefaultCDNMarker = "mmbiz.qpic.cn"

// UploadFunc uploads one image and returns its hosted URL. An empty URL
// with a nil error counts as a failed upload.
type UploadFunc func(ctx context.Context, task models.ImageTask) (string, error)

// Fetcher downloads remote images.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// LocalFunc loads an image referenced by a non-URL src, typically a vault
// path. It returns the bytes and a file name.
type LocalFunc func(ctx context.Context, ref string) ([]byte, string, error)

// Result reports the outcome of a substitution.
type Result struct {
	HTML     string
	Uploaded models.UploadResult
	Skipped  int // already hosted, or no way to load
	Failed   int // preparation or upload failed
}

// Substituter is safe for concurrent use.
type Substituter struct {
	fetcher   Fetcher
	local     LocalFunc
	cdnMarker string
	batchSize int
	logger    *slog.Logger
}

// Option configures a Substituter.
type Option func(*Substituter)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Substituter) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithCDNMarker overrides DefaultCDNMarker.
func WithCDNMarker(marker string) Option {
	return func(s *Substituter) {
		if marker != "" {
			s.cdnMarker = marker
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Substituter) { s.logger = l }
}

// New creates a Substituter. fetcher may be nil, in which case remote
// images are left alone.
func New(fetcher Fetcher, opts ...Option) *Substituter {
	s := &Substituter{
		fetcher:   fetcher,
		cdnMarker: DefaultCDNMarker,
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithLocal returns a copy of s that loads non-URL sources through fn.
func (s *Substituter) WithLocal(fn LocalFunc) *Substituter {
	c := *s
	c.local = fn
	return &c
}

// Substitute uploads the images in doc through upload and returns the
// rewritten document. It never fails as a whole.
func (s *Substituter) Substitute(ctx context.Context, doc string, upload UploadFunc) Result {
	occs := scanImages(doc)
	res := Result{HTML: doc, Uploaded: models.UploadResult{}}
	if len(occs) == 0 {
		return res
	}

	tasks, skipped, failed := s.prepare(ctx, occs)
	res.Skipped, res.Failed = skipped, failed

	urls := s.uploadBatches(ctx, tasks, upload)

	var edits []textspan.Edit
	for i, u := range urls {
		if u == "" {
			if tasks[i] != nil {
				res.Failed++
			}
			continue
		}
		edits = append(edits, textspan.Edit{Start: occs[i].start, End: occs[i].end, Text: u})
		if _, seen := res.Uploaded[occs[i].raw]; !seen {
			res.Uploaded[occs[i].raw] = u
		}
	}
	res.HTML = textspan.Apply(doc, edits)
	s.logger.Info("imagesub: substitution done",
		slog.Int("images", len(occs)),
		slog.Int("uploaded", len(edits)),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return res
}

// prepare loads every occurrence concurrently. A nil task means the
// occurrence is skipped or could not be loaded.
func (s *Substituter) prepare(ctx context.Context, occs []occurrence) ([]*models.ImageTask, int, int) {
	tasks := make([]*models.ImageTask, len(occs))
	var mu sync.Mutex
	skipped, failed := 0, 0

	var g errgroup.Group
	for i, occ := range occs {
		g.Go(func() error {
			task, err := s.load(ctx, i, occ)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				s.logger.Warn("imagesub: prepare failed", slog.String("src", truncate(occ.src)), slog.String("error", err.Error()))
			case task == nil:
				skipped++
			default:
				tasks[i] = task
			}
			return nil
		})
	}
	_ = g.Wait()
	return tasks, skipped, failed
}

func (s *Substituter) load(ctx context.Context, i int, occ occurrence) (*models.ImageTask, error) {
	src := strings.TrimSpace(occ.src)
	lower := strings.ToLower(src)

	switch {
	case strings.HasPrefix(lower, "data:"):
		data, ext, err := DecodeDataURI(src)
		if err != nil {
			return nil, err
		}
		return &models.ImageTask{Index: i, SourceRef: occ.raw, Payload: data, SuggestedFilename: newFilename(data, ext)}, nil

	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "//"):
		if strings.Contains(src, s.cdnMarker) {
			return nil, nil
		}
		if s.fetcher == nil {
			return nil, nil
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		data, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		return &models.ImageTask{Index: i, SourceRef: occ.raw, Payload: data, SuggestedFilename: newFilename(data, extFromURL(src))}, nil

	default:
		if s.local == nil {
			return nil, nil
		}
		ref := src
		if decoded, err := url.PathUnescape(src); err == nil {
			ref = decoded
		}
		data, name, err := s.local(ctx, ref)
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = newFilename(data, extOf(ref))
		}
		return &models.ImageTask{Index: i, SourceRef: occ.raw, Payload: data, SuggestedFilename: name}, nil
	}
}

// uploadBatches runs upload over tasks, batchSize at a time. The result has
// one URL per task position, empty where nothing was uploaded.
func (s *Substituter) uploadBatches(ctx context.Context, tasks []*models.ImageTask, upload UploadFunc) []string {
	urls := make([]string, len(tasks))
	for start := 0; start < len(tasks); start += s.batchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+s.batchSize, len(tasks))
		var g errgroup.Group
		for i := start; i < end; i++ {
			task := tasks[i]
			if task == nil {
				continue
			}
			g.Go(func() error {
				u, err := upload(ctx, *task)
				if err == nil && u == "" {
					err = errEmptyURL
				}
				if err != nil {
					s.logger.Warn("imagesub: upload failed", slog.String("src", truncate(task.SourceRef)), slog.String("error", err.Error()))
					return nil
				}
				urls[i] = u
				return nil
			})
		}
		_ = g.Wait()
	}
	return urls
}

var (
	errInvalidDataURI = errors.New("imagesub: invalid image data URI")
	errEmptyURL       = errors.New("imagesub: upload returned no url")
)

var dataURIRe = regexp.MustCompile(`(?s)^data:image/([\w.+-]+);base64,(.+)$`)

// DecodeDataURI parses a base64 image data URI and returns the payload and
// a file extension without the dot.
func DecodeDataURI(uri string) ([]byte, string, error) {
	m := dataURIRe.FindStringSubmatch(uri)
	if m == nil {
		return nil, "", errInvalidDataURI
	}
	encoded := strings.Join(strings.Fields(m[2]), "")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", errInvalidDataURI
		}
	}
	ext := strings.ToLower(m[1])
	if ext == "svg+xml" {
		ext = "svg"
	}
	return data, ext, nil
}

// newFilename names an upload after its content so repeated images share a
// name.
func newFilename(data []byte, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return checksum.Short(data) + "." + ext
}

func extFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return extOf(u.Path)
}

func extOf(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if len(ext) > 5 {
		return ""
	}
	return ext
}

func truncate(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
