package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/index"
)

const maxValueBytes = 5 << 20

// StorageHandler exposes a flat key/value store for editor state.
type StorageHandler struct {
	kv     index.KV
	logger *slog.Logger
}

// NewStorageRouter mounts the key/value routes. With a non-empty token the
// Bearer value must match it; otherwise any non-empty Bearer token passes.
func NewStorageRouter(kv index.KV, token string, logger *slog.Logger) chi.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &StorageHandler{kv: kv, logger: logger}

	r := chi.NewRouter()
	r.Use(CORS("GET,PUT,DELETE,HEAD,POST,OPTIONS"))
	if token != "" {
		r.Use(AuthMiddleware(true, token))
	} else {
		r.Use(PresentBearer)
	}

	r.Get("/keys", h.Keys)
	r.Delete("/", h.Clear)
	r.Get("/*", h.Get)
	r.Head("/*", h.Head)
	r.Put("/*", h.Put)
	r.Delete("/*", h.Delete)
	return r
}

func storageKey(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	key, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return key
}

// Keys handles GET /storage/keys.
func (h *StorageHandler) Keys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.kv.KVKeys(r.Context())
	if err != nil {
		writeError(w, "kv keys", err)
		return
	}
	writeJSON(w, http.StatusOK, KeysResponse{Keys: keys})
}

// Clear handles DELETE /storage.
func (h *StorageHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.kv.KVClear(r.Context())
	if err != nil {
		writeError(w, "kv clear", err)
		return
	}
	h.logger.Info("kv cleared", slog.Int64("keys", n))
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Get handles GET /storage/{key}.
func (h *StorageHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := storageKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid storage path"))
		return
	}
	v, err := h.kv.KVGet(r.Context(), key)
	if errors.Is(err, apperr.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ValueResponse{})
		return
	}
	if err != nil {
		writeError(w, "kv get", err)
		return
	}
	s := string(v)
	writeJSON(w, http.StatusOK, ValueResponse{Value: &s})
}

// Head handles HEAD /storage/{key}.
func (h *StorageHandler) Head(w http.ResponseWriter, r *http.Request) {
	key := storageKey(r)
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	ok, err := h.kv.KVExists(r.Context(), key)
	switch {
	case err != nil:
		w.WriteHeader(http.StatusInternalServerError)
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// Put handles PUT /storage/{key}.
func (h *StorageHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := storageKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid storage path"))
		return
	}
	var req PutValueRequest
	if !decodeBody(w, r, maxValueBytes, &req) {
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing value in body"))
		return
	}
	if err := h.kv.KVPut(r.Context(), key, []byte(*req.Value)); err != nil {
		writeError(w, "kv put", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Delete handles DELETE /storage/{key}.
func (h *StorageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := storageKey(r)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid storage path"))
		return
	}
	if err := h.kv.KVDelete(r.Context(), key); err != nil {
		writeError(w, "kv delete", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
