// Package polish rewrites Markdown through an OpenAI-compatible chat
// completions endpoint.
package polish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/starford/quill/internal/apperr"
)

// DefaultPrompt is the system prompt used when none is configured.
const DefaultPrompt = "You are a careful editor. Polish the Markdown article the user sends: fix grammar, " +
	"tighten wording and improve flow. Keep the original meaning, structure, links, images and code " +
	"blocks unchanged. Reply with the Markdown only."

// Config selects the model endpoint.
type Config struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Prompt      string
	Timeout     time.Duration
}

// Client calls the completions endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New validates cfg and creates a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("%w: polish.endpoint is empty", apperr.ErrConfig)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: polish.model is empty", apperr.ErrConfig)
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Polish returns the model's rewrite of markdown.
func (c *Client) Polish(ctx context.Context, markdown string) (string, error) {
	if strings.TrimSpace(markdown) == "" {
		return "", fmt.Errorf("polish: %w: empty document", apperr.ErrInvalidInput)
	}
	body, err := json.Marshal(completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: c.cfg.Prompt},
			{Role: "user", Content: markdown},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.cfg.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("polish: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("polish: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("polish: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("polish: endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("polish: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("polish: endpoint returned empty content")
	}
	c.logger.Info("polish: done",
		slog.String("model", c.cfg.Model),
		slog.Int("in_bytes", len(markdown)),
		slog.Duration("elapsed", time.Since(start)))
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
