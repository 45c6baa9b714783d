package models

import (
	"path"
	"strings"
	"time"
)

// FileHandle identifies a file inside the vault. Path is slash-separated and
// relative to the vault root.
type FileHandle struct {
	Path      string `json:"path"`
	Extension string `json:"extension"` // lower-case, without the dot
	Basename  string `json:"basename"`  // file name without extension
}

// NewFileHandle derives the extension and basename from p.
func NewFileHandle(p string) FileHandle {
	name := path.Base(p)
	ext := path.Ext(name)
	return FileHandle{
		Path:      p,
		Extension: strings.ToLower(strings.TrimPrefix(ext, ".")),
		Basename:  strings.TrimSuffix(name, ext),
	}
}

// Name returns the file name including its extension.
func (f FileHandle) Name() string { return path.Base(f.Path) }

// Dir returns the containing directory, or "" for files at the vault root.
func (f FileHandle) Dir() string {
	d := path.Dir(f.Path)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func (f FileHandle) IsZero() bool { return f.Path == "" }

var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
	"svg": true, "webp": true, "bmp": true,
}

// IsImage reports whether the extension belongs to the recognised image set.
func (f FileHandle) IsImage() bool { return imageExtensions[f.Extension] }

// IsDocument reports whether the file is a markdown note.
func (f FileHandle) IsDocument() bool { return f.Extension == "md" }

// FileMetadata is what a storage listing reports per file.
type FileMetadata struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
