package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// getElementForUpdate fetches the live row and its raw updated_at, so
// callers can compare it against an optimistic-concurrency token before
// the caller's mutate closure runs.
func getElementForUpdate(ctx context.Context, q queryer, id string) (*types.Element, sql.NullTime, error) {
	el, err := getElementRow(ctx, q, id, false)
	if err != nil {
		return nil, sql.NullTime{}, err
	}
	return el, sql.NullTime{Time: el.UpdatedAt, Valid: true}, nil
}

// elementDeletedAt reports id's deleted_at column regardless of delete
// state, distinguishing "already tombstoned" from "never existed" for
// deleteElement's idempotency check.
func elementDeletedAt(ctx context.Context, q queryer, id string) (sql.NullTime, error) {
	var deletedAt sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT deleted_at FROM elements WHERE id = ?`, id).Scan(&deletedAt)
	if err == sql.ErrNoRows {
		return sql.NullTime{}, errs.NotFound("element", id)
	}
	if err != nil {
		return sql.NullTime{}, errs.Storage(err, "check element delete state")
	}
	return deletedAt, nil
}

func updateElement(ctx context.Context, q queryer, id string, mutate func(*types.Element) error, actor string, expectedUpdatedAt *sql.NullTime) error {
	el, current, err := getElementForUpdate(ctx, q, id)
	if err != nil {
		return err
	}

	if expectedUpdatedAt != nil && expectedUpdatedAt.Valid {
		if !current.Valid || !current.Time.Equal(expectedUpdatedAt.Time) {
			return errs.Conflict("element was modified since it was read; reload and retry").
				Detail("id", id).
				Detail("expectedUpdatedAt", expectedUpdatedAt.Time).
				Detail("actualUpdatedAt", current.Time)
		}
	}

	if err := mutate(el); err != nil {
		return err
	}
	if el.Type == types.TypeTask && el.Task.Status == types.StatusTombstone {
		return errs.Validation("status cannot be set to tombstone directly; use DeleteElement")
	}

	el.UpdatedAt = time.Now().UTC()

	// The elements CHECK constraint requires closed_at once the status is
	// terminal; stamp it with the update time when the caller left it unset.
	switch {
	case el.Type == types.TypeTask && el.Task.Status == types.StatusClosed && el.Task.ClosedAt == nil:
		closedAt := el.UpdatedAt
		el.Task.ClosedAt = &closedAt
	case el.Type == types.TypeWorkflow && el.Workflow.Status.IsTerminal() && el.Workflow.FinishedAt == nil:
		finishedAt := el.UpdatedAt
		el.Workflow.FinishedAt = &finishedAt
	}

	payload, err := payloadOf(el)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal(err, "marshal element payload")
	}
	tagsJSON, err := json.Marshal(el.Tags.Slice())
	if err != nil {
		return errs.Internal(err, "marshal element tags")
	}
	metaJSON, err := json.Marshal(el.Metadata)
	if err != nil {
		return errs.Internal(err, "marshal element metadata")
	}

	status, priority, assignee, ephemeral, closedAt := promotedColumns(el)

	_, err = q.ExecContext(ctx, `
		UPDATE elements SET
			payload = ?, tags = ?, metadata = ?, status = ?, priority = ?,
			assignee = ?, ephemeral = ?, updated_at = ?, closed_at = ?
		WHERE id = ?
	`, string(payloadJSON), string(tagsJSON), string(metaJSON), status, priority,
		assignee, boolToInt(ephemeral), el.UpdatedAt, closedAt, id)
	if err != nil {
		return errs.Storage(err, "update element")
	}

	if err := replaceTags(ctx, q, id, el.Tags.Slice()); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, new_value, created_at)
		VALUES (?, 'updated', ?, ?, ?)
	`, id, actor, status, el.UpdatedAt); err != nil {
		return errs.Storage(err, "record update event")
	}

	return markDirty(ctx, q, id)
}

func (s *SQLiteStorage) UpdateElement(ctx context.Context, id string, mutate func(*types.Element) error, actor string, expectedUpdatedAt *sql.NullTime) error {
	if err := updateElement(ctx, s.q(), id, mutate, actor, expectedUpdatedAt); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.ElementUpdated, ElementID: id, Actor: actor})
	return nil
}

func (t *connTx) UpdateElement(ctx context.Context, id string, mutate func(*types.Element) error, actor string, expectedUpdatedAt *sql.NullTime) error {
	return updateElement(ctx, t.q(), id, mutate, actor, expectedUpdatedAt)
}

// deleteElement soft-deletes el (tombstone) unless hard is true, in which
// case the row and all dependent rows (via ON DELETE CASCADE) are removed.
// Soft-deleted tasks move to TombstoneStatus so readiness/blocking queries
// stop seeing them without losing history.
func deleteElement(ctx context.Context, q queryer, id, actor, reason string, hard bool) error {
	if hard {
		res, err := q.ExecContext(ctx, `DELETE FROM elements WHERE id = ?`, id)
		if err != nil {
			return errs.Storage(err, "delete element")
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.NotFound("element", id)
		}
		return nil
	}

	deletedAt, err := elementDeletedAt(ctx, q, id)
	if err != nil {
		return err
	}
	if deletedAt.Valid {
		return errs.Validationf("element %q is already deleted", id).
			Detail("code", "already-deleted").Detail("id", id)
	}

	el, err := getElement(ctx, q, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if el.Type == types.TypeTask {
		el.Task.Status = types.StatusTombstone
	}
	if el.Type == types.TypeWorkflow {
		el.Workflow.Status = types.WorkflowCancelled
	}

	payload, err := payloadOf(el)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal(err, "marshal element payload")
	}

	_, err = q.ExecContext(ctx, `
		UPDATE elements SET
			payload = ?, status = 'tombstone', deleted_at = ?, deleted_by = ?,
			delete_reason = ?, updated_at = ?
		WHERE id = ?
	`, string(payloadJSON), now, actor, reason, now, id)
	if err != nil {
		return errs.Storage(err, "soft delete element")
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, comment, created_at)
		VALUES (?, 'deleted', ?, ?, ?)
	`, id, actor, reason, now); err != nil {
		return errs.Storage(err, "record delete event")
	}

	return markDirty(ctx, q, id)
}

func (s *SQLiteStorage) DeleteElement(ctx context.Context, id, actor, reason string, hard bool) error {
	if err := deleteElement(ctx, s.q(), id, actor, reason, hard); err != nil {
		return err
	}
	s.publish(events.Event{Type: events.ElementDeleted, ElementID: id, Actor: actor, Data: map[string]interface{}{"hard": hard, "reason": reason}})
	return nil
}

func (t *connTx) DeleteElement(ctx context.Context, id, actor, reason string, hard bool) error {
	return deleteElement(ctx, t.q(), id, actor, reason, hard)
}

// ListElements returns elements matching filter, newest first. Deleted and
// ephemeral-workflow elements are excluded unless filter.IncludeDeleted /
// filter.IncludeEphemeral are set, per spec.md §4.3.
func (s *SQLiteStorage) ListElements(ctx context.Context, filter storage.Filter) ([]*types.Element, error) {
	query := `SELECT ` + elementColumns + ` FROM elements WHERE 1=1`
	var args []interface{}

	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Assignee != "" {
		query += ` AND assignee = ?`
		args = append(args, filter.Assignee)
	}
	if filter.Priority != 0 {
		query += ` AND priority = ?`
		args = append(args, filter.Priority)
	}
	if filter.TaskType != "" {
		query += ` AND json_extract(payload, '$.taskType') = ?`
		args = append(args, string(filter.TaskType))
	}
	if !filter.IncludeEphemeral {
		query += ` AND ephemeral = 0`
	}
	for _, tag := range filter.Tags {
		query += ` AND id IN (SELECT element_id FROM element_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1` // SQLite requires LIMIT before OFFSET
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage(err, "list elements")
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, errs.Storage(err, "scan listed element")
		}
		out = append(out, el)
	}
	return out, rows.Err()
}
