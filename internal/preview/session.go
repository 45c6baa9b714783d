// Package preview re-renders a document when it changes and publishes only
// the newest result.
//
// Every change notification bumps a version counter and restarts a quiet
// timer. When the timer fires a render starts with the current version; the
// render checks its version at each checkpoint and again before publishing,
// so a render overtaken by a newer change never reaches the sink.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the quiet interval before a render starts.
const DefaultDebounce = 300 * time.Millisecond

// ErrSuperseded is returned by a Checkpoint once a newer change arrived.
var ErrSuperseded = errors.New("preview: render superseded")

// Checkpoint reports ErrSuperseded when the render in progress is stale.
type Checkpoint func() error

// Update is a finished render.
type Update struct {
	Source   string   `json:"source"`
	Version  uint64   `json:"version"`
	HTML     string   `json:"html"`
	Warnings []string `json:"warnings,omitempty"`
}

// RenderFunc renders source. It should call check after each step that
// may block and return its error.
type RenderFunc func(ctx context.Context, source string, check Checkpoint) (Update, error)

// Sink receives fresh renders.
type Sink func(Update)

// Session debounces change notifications for any number of documents and
// renders the most recently changed one.
type Session struct {
	ctx      context.Context
	render   RenderFunc
	sink     Sink
	debounce time.Duration
	logger   *slog.Logger

	version atomic.Uint64

	mu     sync.Mutex
	timer  *time.Timer
	source string
	closed bool

	sinkMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a session bound to ctx. The session stops when ctx is
// cancelled or Close is called.
func NewSession(ctx context.Context, render RenderFunc, sink Sink, opts ...Option) *Session {
	s := &Session{
		ctx:      ctx,
		render:   render,
		sink:     sink,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	context.AfterFunc(ctx, s.Close)
	return s
}

// Notify records a change to source and schedules a render.
func (s *Session) Notify(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.version.Add(1)
	s.source = source
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

// RenderNow renders source immediately, superseding anything pending.
func (s *Session) RenderNow(source string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.version.Add(1)
	s.source = source
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.fire()
}

// Version is the number of changes seen so far.
func (s *Session) Version() uint64 { return s.version.Load() }

// Close cancels any pending render.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	source := s.source
	v := s.version.Load()
	s.mu.Unlock()

	check := func() error {
		if s.version.Load() != v || s.ctx.Err() != nil {
			return ErrSuperseded
		}
		return nil
	}

	u, err := s.render(s.ctx, source, check)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			s.logger.Debug("preview: render superseded", slog.String("source", source), slog.Uint64("version", v))
			return
		}
		s.logger.Warn("preview: render failed", slog.String("source", source), slog.String("error", err.Error()))
		return
	}

	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if check() != nil {
		s.logger.Debug("preview: discarding stale render", slog.String("source", source), slog.Uint64("version", v))
		return
	}
	u.Source = source
	u.Version = v
	s.sink(u)
}
