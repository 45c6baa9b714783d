package api

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/starford/quill/internal/storage"
)

const maxUploadBytes = 50 << 20 // 50 MB

// FileHandler serves vault files and accepts image uploads.
type FileHandler struct {
	store     *storage.FS
	uploadDir string
}

// NewFileHandler creates a handler over store. Uploads land in uploadDir.
func NewFileHandler(store *storage.FS, uploadDir string) *FileHandler {
	if uploadDir == "" {
		uploadDir = "attachments"
	}
	return &FileHandler{store: store, uploadDir: strings.Trim(uploadDir, "/")}
}

// safeName validates that the filename is a plain name (no path separators,
// no traversal).
func safeName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	cleaned := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if cleaned != path.Base(cleaned) || cleaned == ".." || cleaned == "." {
		return "", false
	}
	return cleaned, true
}

// ServeFile handles GET /api/files/*. Rendered HTML points local images here.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	p := notePath(r)
	f, ok := h.store.LookupByExactPath(p)
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, err := h.store.ReadBytes(f)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, f.Name(), time.Time{}, bytes.NewReader(data))
}

// Upload handles POST /api/files (multipart/form-data, field "file").
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, ok := safeName(header.Filename)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid filename: "+header.Filename))
		return
	}
	rel := path.Join(h.uploadDir, name)
	if h.store.Exists(rel) {
		writeJSON(w, http.StatusConflict, errorBody("file already exists"))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to read upload"))
		return
	}
	if err := h.store.Write(rel, data); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to write file"))
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Path: rel,
		Size: int64(len(data)),
		URL:  "/api/files/" + rel,
	})
}
