// Package importer turns a web page into a Markdown note, either through a
// reader service or by converting the page HTML locally.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/codeGROOVE-dev/retry"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/parser"
)

// DefaultReaderURL is the Jina-style reader endpoint; the page URL is
// appended to it.
const DefaultReaderURL = "https://r.jina.ai/"

const maxPageBytes = 8 << 20

// Import modes.
const (
	ModeAuto   = "auto"   // reader, then local on failure
	ModeReader = "reader" // reader only
	ModeLocal  = "local"  // local conversion only
)

// Options configures the importer.
type Options struct {
	Mode         string
	ReaderURL    string
	ReaderKey    string
	Engine       string
	EmDelimiter  string
	HeadingStyle string
	Timeout      time.Duration
}

// Document is an imported page.
type Document struct {
	Source   string `json:"source"`
	Title    string `json:"title"`
	Filename string `json:"filename"`
	Markdown string `json:"markdown"`
	Via      string `json:"via"`
}

// Importer is safe for concurrent use.
type Importer struct {
	opts   Options
	client *http.Client
	conv   *converter.Converter
	logger *slog.Logger
}

// New creates an Importer.
func New(opts Options, logger *slog.Logger) *Importer {
	if opts.Mode == "" {
		opts.Mode = ModeAuto
	}
	if opts.ReaderURL == "" {
		opts.ReaderURL = DefaultReaderURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// Import fetches rawURL and returns it as Markdown.
func (im *Importer) Import(ctx context.Context, rawURL string) (*Document, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("importer: %q is not an http(s) url: %w", rawURL, apperr.ErrInvalidInput)
	}
	target := u.String()

	var md, via string
	switch im.opts.Mode {
	case ModeReader:
		md, err = im.ViaReader(ctx, target)
		via = ModeReader
	case ModeLocal:
		md, err = im.ViaHTML(ctx, target)
		via = ModeLocal
	default:
		md, err = im.ViaReader(ctx, target)
		via = ModeReader
		if err != nil {
			im.logger.Warn("importer: reader failed, converting locally",
				slog.String("url", target), slog.String("error", err.Error()))
			md, err = im.ViaHTML(ctx, target)
			via = ModeLocal
		}
	}
	if err != nil {
		return nil, err
	}

	title := ExtractTitle(md)
	if title == "" {
		title = u.Host
	}
	return &Document{
		Source:   target,
		Title:    title,
		Filename: SanitizeFilename(title) + ".md",
		Markdown: md,
		Via:      via,
	}, nil
}

// ViaReader asks the reader service for a Markdown rendition.
func (im *Importer) ViaReader(ctx context.Context, target string) (string, error) {
	header := http.Header{}
	if im.opts.ReaderKey != "" {
		header.Set("Authorization", "Bearer "+im.opts.ReaderKey)
	}
	setIf(header, "X-Engine", im.opts.Engine)
	setIf(header, "X-Md-Em-Delimiter", im.opts.EmDelimiter)
	setIf(header, "X-Md-Heading-Style", im.opts.HeadingStyle)

	body, err := im.get(ctx, im.opts.ReaderURL+target, header)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("importer: reader returned empty content for %s", target)
	}
	return CleanNestedImages(body), nil
}

// ViaHTML downloads the page and converts it locally.
func (im *Importer) ViaHTML(ctx context.Context, target string) (string, error) {
	page, err := im.get(ctx, target, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(target)
	md, err := im.conv.ConvertString(page, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		return "", fmt.Errorf("importer: convert %s: %w", target, err)
	}
	md = strings.TrimSpace(CleanNestedImages(md))
	if md == "" {
		return "", fmt.Errorf("importer: %s has no convertible content", target)
	}
	return md, nil
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("importer: GET %s: HTTP %d", e.url, e.code)
}

func (im *Importer) get(ctx context.Context, target string, header http.Header) (string, error) {
	return retry.DoWithData(
		func() (string, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return "", err
			}
			for k, v := range header {
				req.Header[k] = v
			}
			resp, err := im.client.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close() //nolint:errcheck // read-only body
			if resp.StatusCode != http.StatusOK {
				return "", &statusError{url: target, code: resp.StatusCode}
			}
			data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(300*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code == http.StatusTooManyRequests || se.code >= 500
			}
			return true
		}),
	)
}

func setIf(h http.Header, key, val string) {
	if val != "" {
		h.Set(key, val)
	}
}

var (
	nestedImageRe = regexp.MustCompile(`\[!\[(.*?)\]\((.*?)\)\]\(.*?\)`)
	illegalNameRe = regexp.MustCompile(`[\\/:*?"<>|]`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// CleanNestedImages unwraps linked images: [![alt](img)](link) becomes
// ![alt](img).
func CleanNestedImages(md string) string {
	return nestedImageRe.ReplaceAllString(md, "![$1]($2)")
}

// ExtractTitle returns the first H1 heading, trimmed, or "".
func ExtractTitle(md string) string {
	return strings.TrimSpace(parser.HeadingTitle(md))
}

// SanitizeFilename replaces characters that are illegal in file names and
// collapses whitespace. An empty result becomes "Untitled".
func SanitizeFilename(name string) string {
	name = illegalNameRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(spacesRe.ReplaceAllString(name, " "))
	if name == "" {
		return "Untitled"
	}
	return name
}
