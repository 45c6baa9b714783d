package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/storage"
)

// EventCallback is called after a watcher-driven cache change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the vault root and keeps the link
// cache current until ctx is cancelled. It calls cb (if non-nil) after
// each successful cache mutation, including content-only writes.
//
// New directories created at runtime are added to the watch list. Rename
// events trigger a debounced reconciliation pass against the disk.
func Watch(ctx context.Context, db *DB, store storage.Provider, vaultRoot string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			reconcile(db, store, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(vaultRoot, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if hiddenPath(rel) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", rel))
					}
					scheduleReconcile()
					continue
				}
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				info, statErr := os.Stat(ev.Name)
				if statErr != nil || !info.Mode().IsRegular() {
					continue
				}
				meta := models.FileMetadata{Path: rel, Size: info.Size(), UpdatedAt: info.ModTime()}
				if upErr := db.UpsertFile(FileRow{Path: rel, Fingerprint: fingerprint(meta), UpdatedAt: meta.UpdatedAt}); upErr != nil {
					logger.Warn("watcher: cache failed", slog.String("path", rel), slog.String("error", upErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: cached", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, rel)
				}

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteFile(rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				if cb != nil {
					cb("deleted", rel)
				}

			case ev.Op&fsnotify.Rename != 0:
				// Rename fires on the old path only; the new path arrives
				// as a Create if it stays inside a watched dir.
				if delErr := db.DeleteFile(rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else if cb != nil {
					cb("deleted", rel)
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// reconcile removes cache entries whose files vanished and adds files the
// cache has not seen, reporting each change through cb.
func reconcile(db *DB, store storage.Provider, logger *slog.Logger, cb EventCallback) {
	known, err := db.AllFingerprints()
	if err != nil {
		logger.Warn("reconcile: fingerprints failed", slog.String("error", err.Error()))
		return
	}
	metas, err := store.List("")
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]models.FileMetadata, len(metas))
	for _, m := range metas {
		disk[m.Path] = m
	}

	for p := range known {
		if _, ok := disk[p]; ok {
			continue
		}
		if delErr := db.DeleteFile(p); delErr == nil {
			logger.Debug("reconcile: removed stale", slog.String("path", p))
			if cb != nil {
				cb("deleted", p)
			}
		}
	}

	for p, m := range disk {
		fp := fingerprint(m)
		old, seen := known[p]
		if old == fp {
			continue
		}
		if upErr := db.UpsertFile(FileRow{Path: p, Fingerprint: fp, UpdatedAt: m.UpdatedAt}); upErr != nil {
			continue
		}
		kind := "created"
		if seen {
			kind = "updated"
		}
		logger.Debug("reconcile: cached", slog.String("path", p), slog.String("op", kind))
		if cb != nil {
			cb(kind, p)
		}
	}
}

// hiddenPath reports whether any segment of a vault path is a dot entry.
func hiddenPath(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its visible subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
