package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/noteservice"
)

// Previewer schedules a debounced preview render.
type Previewer interface {
	Notify(source string)
	Version() uint64
}

// Importer converts a web page to Markdown.
type Importer interface {
	Import(ctx context.Context, rawURL string) (*importer.Document, error)
}

// Polisher rewrites Markdown with a language model.
type Polisher interface {
	Polish(ctx context.Context, markdown string) (string, error)
}

// VaultWriter stores imported notes.
type VaultWriter interface {
	Exists(p string) bool
	Write(p string, content []byte) error
}

// Handler holds API route handlers.
type Handler struct {
	svc      *noteservice.Service
	preview  Previewer
	importer Importer
	polisher Polisher
	vault    VaultWriter
	maxBody  int64
	logger   *slog.Logger
}

// notePath extracts the note path from the URL (everything after the route prefix).
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		}
		return false
	}
	return true
}

// RenderText handles POST /api/render.
//
//	@Summary		Render inline Markdown to platform HTML
//	@Tags			render
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenderRequest	true	"Markdown to render"
//	@Success		200		{object}	RenderResponse
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		ApiKeyAuth
//	@Router			/render [post]
func (h *Handler) RenderText(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if !decodeBody(w, r, h.maxBody, &req) {
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody(`missing or invalid "content" field`))
		return
	}
	opts := h.svc.RewriteOptions()
	if req.Options != nil {
		if req.Options.RemoveTags != nil {
			opts.RemoveTags = *req.Options.RemoveTags
		}
		if req.Options.InlineImages != nil {
			opts.InlineImages = *req.Options.InlineImages
		}
	}
	out, err := h.svc.RenderText(r.Context(), req.Content, &opts)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// RenderFile handles GET /api/render/*.
//
//	@Summary		Render a vault note to platform HTML
//	@Tags			render
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	RenderResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render/{path} [get]
func (h *Handler) RenderFile(w http.ResponseWriter, r *http.Request) {
	p := notePath(r)
	if p == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	out, err := h.svc.RenderFile(r.Context(), p, nil)
	if err != nil {
		writeError(w, "render file", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Resolve handles GET /api/resolve.
//
//	@Summary		Resolve a link target to a vault file
//	@Tags			render
//	@Produce		json
//	@Param			name	query		string	true	"Link text or path"
//	@Param			from	query		string	false	"Path of the linking note"
//	@Success		200		{object}	ResolveResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/resolve [get]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'name' is required"))
		return
	}
	f, ok := h.svc.Resolve(name, q.Get("from"))
	resp := ResolveResponse{Name: name, Found: ok}
	if ok {
		resp.Path = f.Path
		resp.IsNote = f.IsDocument()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Publish handles POST /api/publish.
//
//	@Summary		Create drafts for a note in every selected account
//	@Tags			publish
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PublishRequest	true	"Note and accounts"
//	@Success		200		{object}	PublishResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if !decodeBody(w, r, 1<<20, &req) {
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	results, err := h.svc.Publish(r.Context(), req.Path, req.Accounts)
	if err != nil {
		writeError(w, "publish", err)
		return
	}
	writeJSON(w, http.StatusOK, PublishResponse{Results: results})
}

// Accounts handles GET /api/accounts.
//
//	@Summary		List configured publishing accounts
//	@Tags			publish
//	@Produce		json
//	@Success		200	{object}	AccountsResponse
//	@Security		BearerAuth
//	@Router			/accounts [get]
func (h *Handler) Accounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, AccountsResponse{Accounts: nonNil(h.svc.Accounts())})
}

// Drafts handles GET /api/drafts.
//
//	@Summary		List created drafts, newest first
//	@Tags			publish
//	@Produce		json
//	@Param			path	query		string	false	"Filter by note path"
//	@Param			limit	query		int		false	"Max records"
//	@Success		200		{object}	DraftsResponse
//	@Security		BearerAuth
//	@Router			/drafts [get]
func (h *Handler) Drafts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	records, err := h.svc.History(r.Context(), q.Get("path"), limit)
	if err != nil {
		writeError(w, "list drafts", err)
		return
	}
	writeJSON(w, http.StatusOK, DraftsResponse{Drafts: records})
}

// Preview handles POST /api/preview. The render result arrives on
// GET /api/events as a preview.updated event.
//
//	@Summary		Schedule a live preview render
//	@Tags			preview
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PreviewRequest	true	"Note to preview"
//	@Success		202		{object}	PreviewResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/preview [post]
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		writeError(w, "preview", fmt.Errorf("%w: preview is disabled", apperr.ErrConfig))
		return
	}
	var req PreviewRequest
	if !decodeBody(w, r, 1<<20, &req) {
		return
	}
	f, ok := h.svc.Resolve(req.Path, "")
	if !ok || !f.IsDocument() {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	h.preview.Notify(f.Path)
	writeJSON(w, http.StatusAccepted, PreviewResponse{Path: f.Path, Version: h.preview.Version()})
}

// Import handles POST /api/import.
//
//	@Summary		Import a web page as Markdown
//	@Tags			import
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Page to import"
//	@Success		200		{object}	ImportResponse
//	@Success		201		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		writeError(w, "import", fmt.Errorf("%w: importer is disabled", apperr.ErrConfig))
		return
	}
	var req ImportRequest
	if !decodeBody(w, r, 1<<20, &req) {
		return
	}
	doc, err := h.importer.Import(r.Context(), req.URL)
	if err != nil {
		writeError(w, "import", err)
		return
	}
	if !req.Save {
		writeJSON(w, http.StatusOK, ImportResponse{Document: doc})
		return
	}

	p := path.Join(strings.Trim(req.Dir, "/"), doc.Filename)
	if h.vault.Exists(p) {
		writeError(w, "import", fmt.Errorf("api: %s: %w", p, apperr.ErrAlreadyExists))
		return
	}
	if err := h.vault.Write(p, []byte(doc.Markdown)); err != nil {
		writeError(w, "import save", err)
		return
	}
	h.logger.Info("imported page saved", slog.String("url", doc.Source), slog.String("path", p))
	writeJSON(w, http.StatusCreated, ImportResponse{Document: doc, Path: p})
}

// Polish handles POST /api/polish.
//
//	@Summary		Polish Markdown with a language model
//	@Tags			polish
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PolishRequest	true	"Markdown to polish"
//	@Success		200		{object}	PolishResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/polish [post]
func (h *Handler) Polish(w http.ResponseWriter, r *http.Request) {
	if h.polisher == nil {
		writeError(w, "polish", fmt.Errorf("%w: polish is not configured", apperr.ErrConfig))
		return
	}
	var req PolishRequest
	if !decodeBody(w, r, h.maxBody, &req) {
		return
	}
	out, err := h.polisher.Polish(r.Context(), req.Content)
	if err != nil {
		writeError(w, "polish", err)
		return
	}
	writeJSON(w, http.StatusOK, PolishResponse{Content: out})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
