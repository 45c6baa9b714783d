package index

import (
	"context"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/storage"
)

// LinkCache is the link-resolution half of the index.
type LinkCache interface {
	LookupByLinkConvention(name string, source models.FileHandle) (models.FileHandle, bool, error)
}

// History stores and lists publish records.
type History interface {
	RecordPublish(ctx context.Context, r models.PublishRecord) error
	ListPublishes(ctx context.Context, source string, limit int) ([]models.PublishRecord, error)
}

// KV is a flat string-keyed blob store.
type KV interface {
	KVKeys(ctx context.Context) ([]string, error)
	KVGet(ctx context.Context, key string) ([]byte, error)
	KVPut(ctx context.Context, key string, value []byte) error
	KVExists(ctx context.Context, key string) (bool, error)
	KVDelete(ctx context.Context, key string) error
	KVClear(ctx context.Context) (int64, error)
}

// Verify *DB satisfies the interfaces at compile time.
var (
	_ LinkCache = (*DB)(nil)
	_ History   = (*DB)(nil)
	_ KV        = (*DB)(nil)
)

// Namespace joins the vault file system with the link cache so resolvers
// see a single lookup surface.
type Namespace struct {
	*storage.FS
	links LinkCache
}

// NewNamespace returns a Namespace over store and links.
func NewNamespace(store *storage.FS, links LinkCache) *Namespace {
	return &Namespace{FS: store, links: links}
}

// LookupByLinkConvention delegates to the link cache.
func (n *Namespace) LookupByLinkConvention(name string, source models.FileHandle) (models.FileHandle, bool, error) {
	return n.links.LookupByLinkConvention(name, source)
}
