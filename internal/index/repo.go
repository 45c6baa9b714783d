package index

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/starford/quill/internal/models"
)

// FileRow represents a row in the files table.
type FileRow struct {
	Path        string
	Fingerprint string
	UpdatedAt   time.Time
}

// UpsertFiles inserts or refreshes a batch of files within a transaction.
func (db *DB) UpsertFiles(rows []FileRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.Prepare(`
		INSERT INTO files (path, dir, name_lower, stem_lower, ext, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			updated_at  = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("index: prepare file upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		h := models.NewFileHandle(r.Path)
		if _, err := stmt.Exec(h.Path, h.Dir(), strings.ToLower(h.Name()), strings.ToLower(h.Basename),
			h.Extension, r.Fingerprint, r.UpdatedAt); err != nil {
			return fmt.Errorf("index: upsert file %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

// UpsertFile is UpsertFiles for a single row.
func (db *DB) UpsertFile(r FileRow) error {
	return db.UpsertFiles([]FileRow{r})
}

// DeleteFile removes a file from the link cache.
func (db *DB) DeleteFile(p string) error {
	if _, err := db.conn.Exec(`DELETE FROM files WHERE path = ?`, p); err != nil {
		return fmt.Errorf("index: delete file: %w", err)
	}
	return nil
}

// AllFingerprints returns path → fingerprint for every cached file.
func (db *DB) AllFingerprints() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, fingerprint FROM files`)
	if err != nil {
		return nil, fmt.Errorf("index: all fingerprints: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, fp string
		if err := rows.Scan(&p, &fp); err != nil {
			return nil, err
		}
		out[p] = fp
	}
	return out, rows.Err()
}

// HasFile reports whether p is present in the link cache.
func (db *DB) HasFile(p string) (bool, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM files WHERE path = ?`, p).Scan(&n); err != nil {
		return false, fmt.Errorf("index: has file: %w", err)
	}
	return n > 0, nil
}

// LookupByLinkConvention resolves link text the way the editor does: by
// file name (an omitted extension means .md) optionally qualified by a
// trailing part of the path. Matching ignores case. When several files
// qualify, one in the source's directory wins, then the shortest path.
func (db *DB) LookupByLinkConvention(name string, source models.FileHandle) (models.FileHandle, bool, error) {
	if strings.ContainsFunc(name, unicode.IsControl) {
		return models.FileHandle{}, false, fmt.Errorf("index: invalid link text %q", name)
	}
	link := name
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimPrefix(strings.TrimSpace(link), "/")
	if link == "" {
		return models.FileHandle{}, false, nil
	}
	lower := strings.ToLower(link)
	base := path.Base(lower)

	rows, err := db.conn.Query(`
		SELECT path FROM files
		WHERE name_lower = ? OR (stem_lower = ? AND ext = 'md')
	`, base, base)
	if err != nil {
		return models.FileHandle{}, false, fmt.Errorf("index: lookup link: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return models.FileHandle{}, false, err
		}
		if pathMatches(strings.ToLower(p), lower) {
			candidates = append(candidates, p)
		}
	}
	if err := rows.Err(); err != nil {
		return models.FileHandle{}, false, err
	}
	if len(candidates) == 0 {
		return models.FileHandle{}, false, nil
	}
	return models.NewFileHandle(pickCandidate(candidates, source.Dir())), true, nil
}

// pathMatches reports whether the lower-cased vault path p is addressed by
// the lower-cased link text.
func pathMatches(p, link string) bool {
	for _, want := range []string{link, link + ".md"} {
		if p == want || strings.HasSuffix(p, "/"+want) {
			return true
		}
	}
	return false
}

func pickCandidate(candidates []string, sourceDir string) string {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		sa, sb := path.Dir(a) == dirOrDot(sourceDir), path.Dir(b) == dirOrDot(sourceDir)
		if sa != sb {
			return sa
		}
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	})
	return candidates[0]
}

func dirOrDot(d string) string {
	if d == "" {
		return "."
	}
	return d
}
