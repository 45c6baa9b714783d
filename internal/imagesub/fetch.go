package imagesub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// MaxImageBytes caps a single downloaded image.
const MaxImageBytes = 10 << 20

// HTTPError is a non-200 response from a remote image host.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("imagesub: GET %s: HTTP %d", e.URL, e.StatusCode)
}

// HTTPFetcher downloads remote images with one retry on transient failures.
type HTTPFetcher struct {
	client    *http.Client
	hostCheck func(host string) error
	logger    *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHostCheck rejects hosts before any request is sent, including
// redirect targets.
func WithHostCheck(fn func(host string) error) FetcherOption {
	return func(f *HTTPFetcher) { f.hostCheck = fn }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher. timeout bounds each attempt.
func NewHTTPFetcher(timeout time.Duration, opts ...FetcherOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	f := &HTTPFetcher{logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(f)
	}
	f.client = &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("imagesub: too many redirects")
			}
			if f.hostCheck != nil {
				return f.hostCheck(req.URL.Hostname())
			}
			return nil
		},
	}
	return f
}

// Fetch returns the body of rawURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("imagesub: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("imagesub: unsupported scheme %q", parsed.Scheme)
	}
	if f.hostCheck != nil {
		if err := f.hostCheck(parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	return retry.DoWithData(
		func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return nil, err
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close() //nolint:errcheck // read-only body

			if resp.StatusCode != http.StatusOK {
				return nil, &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
			}
			data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
			if err != nil {
				return nil, err
			}
			if len(data) > MaxImageBytes {
				return nil, fmt.Errorf("imagesub: %s exceeds %d bytes", rawURL, MaxImageBytes)
			}
			return data, nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(200*time.Millisecond),
		retry.MaxJitter(100*time.Millisecond),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Debug("imagesub: retrying download",
				slog.Int("attempt", int(n)+1), slog.String("url", rawURL), slog.String("error", err.Error()))
		}),
	)
}

// isRetryableError returns true for transient errors.
func isRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

// BlockInternalHosts rejects loopback, link-local and cloud metadata
// addresses. Unresolvable names pass so the HTTP client reports them.
func BlockInternalHosts(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("imagesub: blocked host %s", host)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let the client surface DNS failures
		}
		ip = ips[0]
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("imagesub: blocked host %s", host)
	}
	return nil
}
