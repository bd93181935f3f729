package sqlite

import (
	"context"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
)

// markDirty marks a single element as dirty for external sync consumers.
func markDirty(ctx context.Context, q queryer, elementID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO dirty_elements (element_id, marked_at)
		VALUES (?, ?)
		ON CONFLICT (element_id) DO UPDATE SET marked_at = excluded.marked_at
	`, elementID, time.Now())
	if err != nil {
		return errs.Storage(err, "mark element dirty")
	}
	return nil
}

// GetDirtyElements returns the IDs of elements changed since the last
// ClearDirtyElements call, ordered by when they were marked.
func (s *SQLiteStorage) GetDirtyElements(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT element_id FROM dirty_elements ORDER BY marked_at ASC`)
	if err != nil {
		return nil, errs.Storage(err, "list dirty elements")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage(err, "scan dirty element")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDirtyElements removes the given IDs from the dirty set, typically
// after a sync consumer has exported them.
func (s *SQLiteStorage) ClearDirtyElements(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := s.db.PrepareContext(ctx, `DELETE FROM dirty_elements WHERE element_id = ?`)
	if err != nil {
		return errs.Storage(err, "prepare clear dirty elements")
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return errs.Storage(err, "clear dirty element "+id)
		}
	}
	return nil
}
