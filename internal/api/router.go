package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/storage"
)

// Deps holds what the /api routes need. Optional fields may be nil; the
// matching endpoints then answer 400.
type Deps struct {
	Service  *noteservice.Service
	Store    *storage.FS
	Preview  Previewer
	Importer Importer
	Polisher Polisher
	// Events is mounted at GET /events when not nil.
	Events http.Handler

	AuthEnabled  bool
	Token        string
	RenderAPIKey string
	// MaxContentBytes bounds inline render bodies.
	MaxContentBytes int
	UploadDir       string
	Logger          *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted.
//
// POST /render is guarded by the render API key; every other route uses the
// Bearer token auth.
func NewRouter(d Deps) chi.Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := int64(d.MaxContentBytes)
	if maxBody <= 0 {
		maxBody = noteservice.DefaultMaxContentBytes
	}
	h := &Handler{
		svc:      d.Service,
		preview:  d.Preview,
		importer: d.Importer,
		polisher: d.Polisher,
		vault:    d.Store,
		// JSON escaping can double the wire size of the content.
		maxBody: 2*maxBody + 4<<10,
		logger:  logger,
	}
	fh := NewFileHandler(d.Store, d.UploadDir)

	r := chi.NewRouter()
	r.Use(CORS("GET,POST,OPTIONS"))

	r.With(APIKeyMiddleware(d.RenderAPIKey)).Post("/render", h.RenderText)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

		r.Get("/render/*", h.RenderFile)
		r.Get("/resolve", h.Resolve)

		r.Post("/publish", h.Publish)
		r.Get("/accounts", h.Accounts)
		r.Get("/drafts", h.Drafts)

		r.Post("/preview", h.Preview)
		if d.Events != nil {
			r.Get("/events", d.Events.ServeHTTP)
		}

		r.Get("/files/*", fh.ServeFile)
		r.Post("/files", fh.Upload)

		r.Post("/import", h.Import)
		r.Post("/polish", h.Polish)
	})

	return r
}
