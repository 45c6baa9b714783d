// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quill-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory seeded with files, keyed by
// vault-relative slash path.
func TestVault(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(vaultDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// TestNamespace seeds a vault, syncs it into a fresh link cache and returns
// the combined namespace.
func TestNamespace(t *testing.T, files map[string]string) (*index.Namespace, *index.DB) {
	t.Helper()
	_, store := TestVault(t, files)
	db := TestDB(t)
	if err := index.Sync(db, store, Logger()); err != nil {
		t.Fatal(err)
	}
	return index.NewNamespace(store, db), db
}

// Logger returns a JSON logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
