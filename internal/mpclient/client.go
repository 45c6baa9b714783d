// Package mpclient talks to the publishing platform's HTTP API: access
// tokens, image and cover uploads, material listing and draft creation.
package mpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/quill/internal/apperr"
)

const maxResponseBytes = 4 << 20

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenCache
	flight  singleflight.Group
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenCache shares a token cache between clients.
func WithTokenCache(t *TokenCache) Option {
	return func(c *Client) { c.tokens = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client that sends requests to baseURL, which is either the
// platform itself or a relay in front of it.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("mpclient: base url is required: %w", apperr.ErrConfig)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("mpclient: base url: %v: %w", err, apperr.ErrConfig)
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	if c.tokens == nil {
		c.tokens = NewTokenCache(nil)
	}
	return c, nil
}

type tokenResponse struct {
	envelope
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a usable access token for appID, fetching one when the
// cache has none or it is inside the refresh margin. Concurrent callers for
// the same credentials share one request.
func (c *Client) Token(ctx context.Context, appID, secret string) (string, error) {
	if appID == "" {
		return "", fmt.Errorf("mpclient: app_id is required: %w", apperr.ErrConfig)
	}
	if secret == "" {
		return "", fmt.Errorf("mpclient: app_secret is required: %w", apperr.ErrConfig)
	}
	if tok, ok := c.tokens.Get(appID); ok {
		return tok, nil
	}

	v, err, _ := c.flight.Do(appID+"\x00"+secret, func() (interface{}, error) {
		if tok, ok := c.tokens.Get(appID); ok {
			return tok, nil
		}
		body := map[string]string{
			"grant_type": "client_credential",
			"appid":      appID,
			"secret":     secret,
		}
		var resp tokenResponse
		if err := c.postJSON(ctx, "/cgi-bin/stable_token", nil, body, &resp); err != nil {
			return "", err
		}
		if resp.AccessToken == "" {
			return "", fmt.Errorf("mpclient: token response has no access_token")
		}
		ttl := time.Duration(resp.ExpiresIn) * time.Second
		c.tokens.Set(appID, resp.AccessToken, ttl)
		c.logger.Debug("mpclient: token refreshed", slog.String("app_id", appID), slog.Duration("ttl", ttl))
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// InvalidateToken drops the cached token for appID.
func (c *Client) InvalidateToken(appID string) {
	c.tokens.Invalidate(appID)
}

type uploadImageResponse struct {
	envelope
	URL string `json:"url"`
}

// UploadImage uploads an article body image and returns its hosted URL.
func (c *Client) UploadImage(ctx context.Context, token string, data []byte, filename string) (string, error) {
	var resp uploadImageResponse
	q := url.Values{"access_token": {token}}
	if err := c.postFile(ctx, "/cgi-bin/media/uploadimg", q, filename, data, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", fmt.Errorf("mpclient: upload image: response has no url")
	}
	return resp.URL, nil
}

type materialResponse struct {
	envelope
	MediaID string `json:"media_id"`
	URL     string `json:"url"`
}

// UploadCover stores data as a permanent image material and returns its
// media id.
func (c *Client) UploadCover(ctx context.Context, token string, data []byte, filename string) (string, error) {
	var resp materialResponse
	q := url.Values{"access_token": {token}, "type": {"image"}}
	if err := c.postFile(ctx, "/cgi-bin/material/add_material", q, filename, data, &resp); err != nil {
		return "", err
	}
	if resp.MediaID == "" {
		return "", fmt.Errorf("mpclient: upload cover: response has no media_id")
	}
	return resp.MediaID, nil
}

type batchMaterialResponse struct {
	envelope
	TotalCount int `json:"total_count"`
	Item       []struct {
		MediaID string `json:"media_id"`
		Name    string `json:"name"`
	} `json:"item"`
}

// FirstImageMaterial returns the media id of the most recent image
// material, if the account has any.
func (c *Client) FirstImageMaterial(ctx context.Context, token string) (string, bool, error) {
	var resp batchMaterialResponse
	q := url.Values{"access_token": {token}}
	body := map[string]interface{}{"type": "image", "offset": 0, "count": 1}
	if err := c.postJSON(ctx, "/cgi-bin/material/batchget_material", q, body, &resp); err != nil {
		return "", false, err
	}
	if len(resp.Item) == 0 || resp.Item[0].MediaID == "" {
		return "", false, nil
	}
	return resp.Item[0].MediaID, true, nil
}

// Article is one draft entry.
type Article struct {
	Title            string `json:"title"`
	Content          string `json:"content"`
	ThumbMediaID     string `json:"thumb_media_id"`
	Author           string `json:"author,omitempty"`
	Digest           string `json:"digest,omitempty"`
	ContentSourceURL string `json:"content_source_url,omitempty"`
}

// AddDraft creates a draft holding a and returns its media id.
func (c *Client) AddDraft(ctx context.Context, token string, a Article) (string, error) {
	var resp materialResponse
	q := url.Values{"access_token": {token}}
	body := map[string][]Article{"articles": {a}}
	if err := c.postJSON(ctx, "/cgi-bin/draft/add", q, body, &resp); err != nil {
		return "", err
	}
	if resp.MediaID == "" {
		return "", fmt.Errorf("mpclient: add draft: response has no media_id")
	}
	return resp.MediaID, nil
}

// responder is implemented by every response type via envelope.
type responder interface {
	apiError() error
}

func (c *Client) postJSON(ctx context.Context, path string, q url.Values, body interface{}, out responder) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mpclient: encode %s: %w", path, err)
	}
	return c.post(ctx, path, q, "application/json", bytes.NewReader(data), out)
}

func (c *Client) postFile(ctx context.Context, path string, q url.Values, filename string, data []byte, out responder) error {
	buf, contentType, err := multipartFile("media", filename, "", data)
	if err != nil {
		return err
	}
	return c.post(ctx, path, q, contentType, buf, out)
}

func (c *Client) post(ctx context.Context, path string, q url.Values, contentType string, body io.Reader, out responder) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("mpclient: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mpclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("mpclient: read %s: %w", path, err)
	}

	decodeErr := json.Unmarshal(raw, out)
	if decodeErr == nil {
		if apiErr := out.apiError(); apiErr != nil {
			c.logger.Warn("mpclient: api error", slog.String("path", path), slog.String("error", apiErr.Error()))
			return apiErr
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode, Body: snippet(raw)}
	}
	if decodeErr != nil {
		return fmt.Errorf("mpclient: decode %s: %w", path, decodeErr)
	}
	return nil
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
