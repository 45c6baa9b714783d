package index

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/quill/internal/models"
)

// RecordPublish stores a successful draft creation.
func (db *DB) RecordPublish(ctx context.Context, r models.PublishRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO publish_history (source, account, app_id, media_id, title, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.Source, r.Account, r.AppID, r.MediaID, r.Title, r.Checksum, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: record publish: %w", err)
	}
	return nil
}

// ListPublishes returns the most recent records first. An empty source
// lists every document.
func (db *DB) ListPublishes(ctx context.Context, source string, limit int) ([]models.PublishRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, account, app_id, media_id, title, checksum, created_at
		FROM publish_history
		WHERE ? = '' OR source = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, source, source, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list publishes: %w", err)
	}
	defer rows.Close()

	out := []models.PublishRecord{}
	for rows.Next() {
		var r models.PublishRecord
		if err := rows.Scan(&r.ID, &r.Source, &r.Account, &r.AppID, &r.MediaID, &r.Title, &r.Checksum, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
