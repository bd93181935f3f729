package sqlite

import (
	"context"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/storage"
)

func addComment(ctx context.Context, q queryer, elementID, author, text string) (*storage.Comment, error) {
	if _, err := getElement(ctx, q, elementID); err != nil {
		return nil, err
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO comments (element_id, author, text, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	`, elementID, author, text)
	if err != nil {
		return nil, errs.Storage(err, "insert comment")
	}
	commentID, err := result.LastInsertId()
	if err != nil {
		return nil, errs.Storage(err, "get inserted comment id")
	}

	comment := &storage.Comment{}
	err = q.QueryRowContext(ctx, `
		SELECT id, element_id, author, text, created_at FROM comments WHERE id = ?
	`, commentID).Scan(&comment.ID, &comment.ElementID, &comment.Author, &comment.Text, &comment.CreatedAt)
	if err != nil {
		return nil, errs.Storage(err, "fetch inserted comment")
	}

	if err := markDirty(ctx, q, elementID); err != nil {
		return nil, err
	}
	return comment, nil
}

// AddComment attaches a free-text note to elementID's history.
func (s *SQLiteStorage) AddComment(ctx context.Context, elementID, author, text string) (*storage.Comment, error) {
	return addComment(ctx, s.q(), elementID, author, text)
}

func (t *connTx) AddComment(ctx context.Context, elementID, author, text string) (*storage.Comment, error) {
	return addComment(ctx, t.q(), elementID, author, text)
}

// GetComments returns every comment recorded against elementID, oldest first.
func (s *SQLiteStorage) GetComments(ctx context.Context, elementID string) ([]*storage.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, element_id, author, text, created_at
		FROM comments WHERE element_id = ? ORDER BY created_at ASC
	`, elementID)
	if err != nil {
		return nil, errs.Storage(err, "query comments")
	}
	defer rows.Close()

	var out []*storage.Comment
	for rows.Next() {
		c := &storage.Comment{}
		if err := rows.Scan(&c.ID, &c.ElementID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, errs.Storage(err, "scan comment")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
