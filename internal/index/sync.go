package index

import (
	"fmt"
	"log/slog"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/storage"
)

// Sync walks the vault and brings the link cache up to date:
//   - new/changed files are upserted
//   - files removed from disk are deleted from the cache
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	known, err := db.AllFingerprints()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	var changed []FileRow
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		fp := fingerprint(m)
		if known[m.Path] == fp {
			continue
		}
		changed = append(changed, FileRow{Path: m.Path, Fingerprint: fp, UpdatedAt: m.UpdatedAt})
	}
	if err := db.UpsertFiles(changed); err != nil {
		return err
	}
	logger.Debug("sync: cached files", slog.Int("changed", len(changed)), slog.Int("total", len(metas)))

	for p := range known {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteFile(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// fingerprint identifies a file version without reading its content.
func fingerprint(m models.FileMetadata) string {
	return fmt.Sprintf("%d-%d", m.Size, m.UpdatedAt.UnixNano())
}
