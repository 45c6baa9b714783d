package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/quill/internal/apperr"
)

// KVKeys lists every stored key in lexical order.
func (db *DB) KVKeys(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key FROM kv_storage ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("index: kv keys: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// KVGet returns the value stored under key or apperr.ErrNotFound.
func (db *DB) KVGet(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM kv_storage WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: kv %q: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: kv get: %w", err)
	}
	return v, nil
}

// KVPut stores value under key, replacing any previous value.
func (db *DB) KVPut(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO kv_storage (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: kv put: %w", err)
	}
	return nil
}

// KVExists reports whether key is stored.
func (db *DB) KVExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM kv_storage WHERE key = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("index: kv exists: %w", err)
	}
	return n > 0, nil
}

// KVDelete removes key. Deleting a missing key is not an error.
func (db *DB) KVDelete(ctx context.Context, key string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM kv_storage WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: kv delete: %w", err)
	}
	return nil
}

// KVClear removes every key and returns how many were deleted.
func (db *DB) KVClear(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM kv_storage`)
	if err != nil {
		return 0, fmt.Errorf("index: kv clear: %w", err)
	}
	return res.RowsAffected()
}
