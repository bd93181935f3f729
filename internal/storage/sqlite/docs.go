package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// hydrateContent populates el.HydratedContent from the Document its
// DescriptionRef (Task) or ContentRef (Message) points at, if any. A
// missing or non-document reference leaves HydratedContent empty rather
// than failing the whole get.
func hydrateContent(ctx context.Context, q queryer, el *types.Element) error {
	var ref string
	switch el.Type {
	case types.TypeTask:
		ref = el.Task.DescriptionRef
	case types.TypeMessage:
		ref = el.Message.ContentRef
	default:
		return nil
	}
	if ref == "" {
		return nil
	}
	doc, err := getElementRow(ctx, q, ref, false)
	if err != nil {
		if errs.Is(err, errs.CodeNotFound) {
			return nil
		}
		return err
	}
	if doc.Type != types.TypeDocument {
		return nil
	}
	el.HydratedContent = doc.Document.Content
	return nil
}

func appendDocumentVersion(ctx context.Context, q queryer, documentID string, contentType types.ContentType, content string, actor string) error {
	el, err := getElement(ctx, q, documentID)
	if err != nil {
		return err
	}
	if el.Type != types.TypeDocument {
		return errs.Validationf("element %q is not a document", documentID)
	}

	nextVersion := el.Document.Version + 1
	now := time.Now().UTC()
	if _, err := q.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, content_type, content, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?)
	`, documentID, nextVersion, string(contentType), content, now, actor); err != nil {
		return errs.Storage(err, "insert document version")
	}

	return updateElement(ctx, q, documentID, func(e *types.Element) error {
		e.Document.ContentType = contentType
		e.Document.Content = content
		e.Document.Version = nextVersion
		e.Document.PreviousVersionID = documentID
		return nil
	}, actor, nil)
}

// AppendDocumentVersion appends a new version row to documentID's history
// and updates the elements row to mirror it as the current version.
func (s *SQLiteStorage) AppendDocumentVersion(ctx context.Context, documentID string, contentType types.ContentType, content string, actor string) (*types.Element, error) {
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		txn := tx.(*connTx) // package-internal: share the connection's queryer
		return appendDocumentVersion(ctx, txn.q(), documentID, contentType, content, actor)
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.Event{Type: events.DocumentVersionCreated, ElementID: documentID, Actor: actor})
	return s.GetElement(ctx, documentID, storage.GetOptions{})
}

// GetDocumentHistory returns documentID's full version chain as synthetic
// Document elements, oldest version first.
func (s *SQLiteStorage) GetDocumentHistory(ctx context.Context, documentID string) ([]*types.Element, error) {
	if _, err := s.GetElement(ctx, documentID, storage.GetOptions{}); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT version, content_type, content, created_at, created_by
		FROM document_versions WHERE document_id = ? ORDER BY version ASC
	`, documentID)
	if err != nil {
		return nil, errs.Storage(err, "query document history")
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		var version int
		var contentType, content, createdBy string
		var createdAt time.Time
		if err := rows.Scan(&version, &contentType, &content, &createdAt, &createdBy); err != nil {
			return nil, errs.Storage(err, "scan document version")
		}
		out = append(out, &types.Element{
			ID:        documentID,
			Type:      types.TypeDocument,
			CreatedAt: createdAt,
			CreatedBy: createdBy,
			UpdatedAt: createdAt,
			Document: &types.Document{
				ContentType: types.ContentType(contentType),
				Content:     content,
				Version:     version,
			},
		})
	}
	return out, rows.Err()
}

// GetDocumentVersion returns one specific historical version of documentID.
func (s *SQLiteStorage) GetDocumentVersion(ctx context.Context, documentID string, version int) (*types.Element, error) {
	var contentType, content, createdBy string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT content_type, content, created_at, created_by
		FROM document_versions WHERE document_id = ? AND version = ?
	`, documentID, version).Scan(&contentType, &content, &createdAt, &createdBy)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("document version", documentID)
	}
	if err != nil {
		return nil, errs.Storage(err, "get document version")
	}

	return &types.Element{
		ID:        documentID,
		Type:      types.TypeDocument,
		CreatedAt: createdAt,
		CreatedBy: createdBy,
		UpdatedAt: createdAt,
		Document: &types.Document{
			ContentType: types.ContentType(contentType),
			Content:     content,
			Version:     version,
		},
	}, nil
}

// RollbackDocument restores a previous version's content as a brand-new
// version, rather than rewriting history: the rollback itself becomes the
// latest entry in the chain.
func (s *SQLiteStorage) RollbackDocument(ctx context.Context, documentID string, version int, actor string) (*types.Element, error) {
	old, err := s.GetDocumentVersion(ctx, documentID, version)
	if err != nil {
		return nil, err
	}
	return s.AppendDocumentVersion(ctx, documentID, old.Document.ContentType, old.Document.Content, actor)
}
