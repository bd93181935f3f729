package sqlite

import (
	"context"
	"database/sql"

	"github.com/elemental-run/elemental/internal/errs"
)

func setConfig(ctx context.Context, q queryer, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errs.Storage(err, "set config")
	}
	return nil
}

func getConfig(ctx context.Context, q queryer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.Storage(err, "get config")
	}
	return value, nil
}

// SetConfig writes a store-level setting, such as the element ID prefix.
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	return setConfig(ctx, s.q(), key, value)
}

func (t *connTx) SetConfig(ctx context.Context, key, value string) error {
	return setConfig(ctx, t.q(), key, value)
}

// GetConfig reads a store-level setting, returning "" if unset.
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, s.q(), key)
}

func (t *connTx) GetConfig(ctx context.Context, key string) (string, error) {
	return getConfig(ctx, t.q(), key)
}

// GetAllConfig returns every store-level setting as a map.
func (s *SQLiteStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, errs.Storage(err, "get all config")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errs.Storage(err, "scan config row")
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetMetadata writes an internal bookkeeping value, such as a schema
// fingerprint, distinct from user-facing config.
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errs.Storage(err, "set metadata")
	}
	return nil
}

// GetMetadata reads an internal bookkeeping value.
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errs.NotFound("metadata", key)
	}
	if err != nil {
		return "", errs.Storage(err, "get metadata")
	}
	return value, nil
}
