// Package resolver maps link text found in a document to a vault file.
//
// Strategies run in a fixed order and the first hit wins:
//
//  1. the link cache (editor link convention)
//  2. the exact vault path
//  3. the configured attachment folder
//  4. a basename scan over every vault file
//
// If the link cache fails, resolution goes straight to the basename scan.
package resolver

import (
	"log/slog"
	"path"
	"strings"

	"github.com/starford/quill/internal/models"
)

// FileLookup is the vault surface a Resolver needs.
type FileLookup interface {
	LookupByLinkConvention(name string, source models.FileHandle) (models.FileHandle, bool, error)
	LookupByExactPath(p string) (models.FileHandle, bool)
	ListAllFiles() ([]models.FileHandle, error)
}

// Resolver resolves references relative to a source document.
type Resolver struct {
	lookup FileLookup
	folder models.AttachmentFolderConfig
	logger *slog.Logger
}

// New creates a Resolver.
func New(lookup FileLookup, folder models.AttachmentFolderConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{lookup: lookup, folder: folder, logger: logger}
}

// Resolve returns the file that nameOrPath refers to from source.
func (r *Resolver) Resolve(nameOrPath string, source models.FileHandle) (models.FileHandle, bool) {
	name := strings.TrimSpace(nameOrPath)
	if name == "" {
		return models.FileHandle{}, false
	}

	f, ok, err := r.lookup.LookupByLinkConvention(name, source)
	if err != nil {
		r.logger.Debug("resolver: link cache failed, scanning basenames",
			slog.String("name", name), slog.String("error", err.Error()))
		return r.byBasename(name)
	}
	if ok {
		return f, true
	}

	if f, ok := r.byExactPath(name); ok {
		return f, true
	}
	if f, ok := r.inAttachmentFolder(name, source); ok {
		return f, true
	}
	return r.byBasename(name)
}

func (r *Resolver) byExactPath(name string) (models.FileHandle, bool) {
	p, ok := cleanPath(name)
	if !ok {
		return models.FileHandle{}, false
	}
	return r.lookup.LookupByExactPath(p)
}

func (r *Resolver) inAttachmentFolder(name string, source models.FileHandle) (models.FileHandle, bool) {
	for _, candidate := range attachmentCandidates(r.folder, name, source.Dir()) {
		if f, ok := r.lookup.LookupByExactPath(candidate); ok {
			return f, true
		}
	}
	return models.FileHandle{}, false
}

// attachmentCandidates lists the paths to try in order. A fixed folder is
// tried at the vault root, beside the source, then in each ancestor of the
// source directory.
func attachmentCandidates(folder models.AttachmentFolderConfig, name, sourceDir string) []string {
	var raw []string
	switch folder.Mode {
	case models.FolderRelative:
		raw = append(raw, path.Join(sourceDir, folder.Value, name))
	case models.FolderFixed:
		raw = append(raw, path.Join(folder.Value, name), path.Join(sourceDir, folder.Value, name))
		for dir := parentDir(sourceDir); dir != ""; dir = parentDir(dir) {
			raw = append(raw, path.Join(dir, folder.Value, name))
		}
	default:
		return nil
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		p, ok := cleanPath(c)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (r *Resolver) byBasename(name string) (models.FileHandle, bool) {
	base := path.Base(strings.TrimSuffix(name, "/"))
	if base == "." || base == "/" || base == "" {
		return models.FileHandle{}, false
	}
	files, err := r.lookup.ListAllFiles()
	if err != nil {
		r.logger.Warn("resolver: list files failed", slog.String("error", err.Error()))
		return models.FileHandle{}, false
	}

	var best models.FileHandle
	matches := 0
	for _, f := range files {
		if f.Name() != base {
			continue
		}
		matches++
		if best.IsZero() || len(f.Path) < len(best.Path) || (len(f.Path) == len(best.Path) && f.Path < best.Path) {
			best = f
		}
	}
	if matches == 0 {
		return models.FileHandle{}, false
	}
	if matches > 1 {
		r.logger.Debug("resolver: ambiguous basename",
			slog.String("name", base), slog.Int("matches", matches), slog.String("chosen", best.Path))
	}
	return best, true
}

// cleanPath normalises a vault path and reports false for paths that
// leave the vault.
func cleanPath(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", false
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	return c, true
}

func parentDir(d string) string {
	if d == "" {
		return ""
	}
	p := path.Dir(d)
	if p == "." || p == "/" {
		return ""
	}
	return p
}
