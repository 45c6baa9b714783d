package api

import (
	"github.com/starford/quill/internal/importer"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/noteservice"
	"github.com/starford/quill/internal/publisher"
)

// RenderRequest is the body of POST /api/render.
type RenderRequest struct {
	Content string         `json:"content" example:"# Hello\n[[Other]]" validate:"required"`
	Options *RenderOptions `json:"options,omitempty"`
}

// RenderOptions overrides the configured rewrite options for one request.
type RenderOptions struct {
	RemoveTags   *bool `json:"remove_tags,omitempty"`
	InlineImages *bool `json:"inline_images,omitempty"`
}

// RenderResponse is returned by the render endpoints.
type RenderResponse = noteservice.Rendered

// ResolveResponse is returned by GET /api/resolve.
type ResolveResponse struct {
	Name   string `json:"name" example:"diagram.png" validate:"required"`
	Found  bool   `json:"found" validate:"required"`
	Path   string `json:"path,omitempty" example:"assets/diagram.png"`
	IsNote bool   `json:"is_note"`
}

// PublishRequest is the body of POST /api/publish.
type PublishRequest struct {
	Path     string   `json:"path" example:"posts/hello.md" validate:"required"`
	Accounts []string `json:"accounts,omitempty" example:"main,backup"`
}

// PublishResponse lists per-account outcomes in account order.
type PublishResponse struct {
	Results []publisher.Result `json:"results" validate:"required"`
}

// AccountsResponse lists configured accounts without secrets.
type AccountsResponse struct {
	Accounts []models.Account `json:"accounts" validate:"required"`
}

// DraftsResponse lists publish history.
type DraftsResponse struct {
	Drafts []models.PublishRecord `json:"drafts" validate:"required"`
}

// PreviewRequest is the body of POST /api/preview.
type PreviewRequest struct {
	Path string `json:"path" example:"posts/hello.md" validate:"required"`
}

// PreviewResponse acknowledges a scheduled preview render.
type PreviewResponse struct {
	Path    string `json:"path"`
	Version uint64 `json:"version"`
}

// ImportRequest is the body of POST /api/import.
type ImportRequest struct {
	URL  string `json:"url" example:"https://example.com/post" validate:"required"`
	Save bool   `json:"save,omitempty"`
	Dir  string `json:"dir,omitempty" example:"inbox"`
}

// ImportResponse is an imported page, plus its vault path when saved.
type ImportResponse struct {
	*importer.Document
	Path string `json:"path,omitempty"`
}

// PolishRequest is the body of POST /api/polish.
type PolishRequest struct {
	Content string `json:"content" validate:"required"`
}

// PolishResponse carries the rewritten Markdown.
type PolishResponse struct {
	Content string `json:"content"`
}

// KeysResponse is returned by GET /storage/keys.
type KeysResponse struct {
	Keys []string `json:"keys"`
}

// ValueResponse is returned by GET /storage/{key}. Value is null when the key
// is missing.
type ValueResponse struct {
	Value *string `json:"value"`
}

// PutValueRequest is the body of PUT /storage/{key}.
type PutValueRequest struct {
	Value *string `json:"value"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// UploadResponse is returned after a successful file upload.
type UploadResponse struct {
	Path string `json:"path" example:"attachments/image.png" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
	URL  string `json:"url" example:"/api/files/attachments/image.png" validate:"required"`
}
