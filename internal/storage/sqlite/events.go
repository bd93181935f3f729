package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

const limitClause = " LIMIT ?"

// GetEvents returns the audit trail for elementID, most recent first.
func (s *SQLiteStorage) GetEvents(ctx context.Context, elementID string, limit int) ([]*storage.Event, error) {
	args := []interface{}{elementID}
	limitSQL := ""
	if limit > 0 {
		limitSQL = limitClause
		args = append(args, limit)
	}

	query := fmt.Sprintf(`
		SELECT id, element_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events
		WHERE element_id = ?
		ORDER BY created_at DESC
		%s
	`, limitSQL)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage(err, "get events")
	}
	defer rows.Close()

	var events []*storage.Event
	for rows.Next() {
		var e storage.Event
		var oldValue, newValue, comment sql.NullString
		if err := rows.Scan(&e.ID, &e.ElementID, &e.EventType, &e.Actor, &oldValue, &newValue, &comment, &e.CreatedAt); err != nil {
			return nil, errs.Storage(err, "scan event")
		}
		e.OldValue = oldValue.String
		e.NewValue = newValue.String
		e.Comment = comment.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// GetStatistics returns store-wide element counts by type, task counts by
// status, plus the
// ready and blocked counts derived from the readiness views.
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*storage.Statistics, error) {
	stats := &storage.Statistics{
		ByType:   map[types.ElementType]int{},
		ByStatus: map[types.TaskStatus]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM elements WHERE deleted_at IS NULL GROUP BY type`)
	if err != nil {
		return nil, errs.Storage(err, "count elements by type")
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			rows.Close()
			return nil, errs.Storage(err, "scan type count")
		}
		stats.ByType[types.ElementType(typ)] = n
		stats.TotalElements += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "iterate type counts")
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM elements
		WHERE type = 'task' AND deleted_at IS NULL GROUP BY status
	`)
	if err != nil {
		return nil, errs.Storage(err, "count tasks by status")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, errs.Storage(err, "scan status count")
		}
		stats.ByStatus[types.TaskStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "iterate status counts")
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ready_tasks`).Scan(&stats.ReadyCount); err != nil {
		return nil, errs.Storage(err, "count ready tasks")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_tasks`).Scan(&stats.BlockedCount); err != nil {
		return nil, errs.Storage(err, "count blocked tasks")
	}

	return stats, nil
}

// requireWorkflow fetches workflowID and validates it is actually a
// workflow, the NOT_FOUND/VALIDATION existence check spec.md §4.6 requires
// of every workflow-scoped query.
func (s *SQLiteStorage) requireWorkflow(ctx context.Context, workflowID string) (*types.Element, error) {
	wf, err := s.GetElement(ctx, workflowID, storage.GetOptions{})
	if err != nil {
		return nil, err
	}
	if wf.Type != types.TypeWorkflow {
		return nil, errs.Validationf("%s is a %s, not a workflow", workflowID, wf.Type)
	}
	return wf, nil
}

// filterClause appends filter's assignee/priority/taskType/tag conditions
// to a query already joined against an "e"-aliased elements table, for the
// workflow-scoped queries that share this shape.
func filterClause(query string, args []interface{}, filter storage.Filter) (string, []interface{}) {
	if filter.Assignee != "" {
		query += ` AND e.assignee = ?`
		args = append(args, filter.Assignee)
	}
	if filter.Priority != 0 {
		query += ` AND e.priority = ?`
		args = append(args, filter.Priority)
	}
	if filter.TaskType != "" {
		query += ` AND json_extract(e.payload, '$.taskType') = ?`
		args = append(args, string(filter.TaskType))
	}
	for _, tag := range filter.Tags {
		query += ` AND e.id IN (SELECT element_id FROM element_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	return query, args
}

// GetWorkflowProgress summarizes the tasks linked to workflowID by
// parent-child descent, per spec.md §4.6's {totalTasks,
// completionPercentage, readyTasks, blockedTasks, statusCounts} shape.
func (s *SQLiteStorage) GetWorkflowProgress(ctx context.Context, workflowID string) (*storage.WorkflowProgress, error) {
	if _, err := s.requireWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	progress := &storage.WorkflowProgress{
		WorkflowID:   workflowID,
		StatusCounts: map[types.TaskStatus]int{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.status, COUNT(*) FROM dependencies d
		JOIN elements e ON e.id = d.source_id
		WHERE d.target_id = ? AND d.type = 'parent-child' AND e.type = 'task' AND e.deleted_at IS NULL
		GROUP BY e.status
	`, workflowID)
	if err != nil {
		return nil, errs.Storage(err, "count workflow tasks by status")
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, errs.Storage(err, "scan workflow task status count")
		}
		progress.StatusCounts[types.TaskStatus(status)] = n
		progress.TotalTasks += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "iterate workflow task status counts")
	}

	if progress.TotalTasks > 0 {
		progress.CompletionPercentage = progress.StatusCounts[types.StatusClosed] * 100 / progress.TotalTasks
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ready_tasks r
		JOIN dependencies d ON d.source_id = r.id
		WHERE d.target_id = ? AND d.type = 'parent-child'
	`, workflowID).Scan(&progress.ReadyTasks); err != nil {
		return nil, errs.Storage(err, "count workflow ready tasks")
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blocked_tasks b
		JOIN dependencies d ON d.source_id = b.id
		WHERE d.target_id = ? AND d.type = 'parent-child'
	`, workflowID).Scan(&progress.BlockedTasks); err != nil {
		return nil, errs.Storage(err, "count workflow blocked tasks")
	}

	return progress, nil
}

// GetTasksInWorkflow returns the tasks linked to workflowID by a
// parent-child dependency, ordered by creation time. Errors NOT_FOUND if
// workflowID doesn't exist, VALIDATION if it isn't a workflow.
func (s *SQLiteStorage) GetTasksInWorkflow(ctx context.Context, workflowID string, filter storage.Filter) ([]*types.Element, error) {
	if _, err := s.requireWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + prefixColumns("e.") + `
		FROM elements e
		JOIN dependencies d ON d.source_id = e.id
		WHERE d.target_id = ? AND d.type = 'parent-child' AND e.type = 'task' AND e.deleted_at IS NULL
	`
	args := []interface{}{workflowID}
	query, args = filterClause(query, args, filter)
	query += ` ORDER BY e.created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryElements(ctx, query, args...)
}

// GetReadyTasksInWorkflow intersects workflowID's tasks with ready_tasks,
// per spec.md §4.6's get_ready_tasks_in_workflow.
func (s *SQLiteStorage) GetReadyTasksInWorkflow(ctx context.Context, workflowID string, filter storage.Filter) ([]*types.Element, error) {
	if _, err := s.requireWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + prefixColumns("e.") + `
		FROM ready_tasks e
		JOIN dependencies d ON d.source_id = e.id
		WHERE d.target_id = ? AND d.type = 'parent-child'
	`
	args := []interface{}{workflowID}
	query, args = filterClause(query, args, filter)
	query += ` ORDER BY e.priority ASC, e.created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryElements(ctx, query, args...)
}

// GetAgentWorkload returns the non-terminal task counts currently assigned
// to entityID, broken down by status (spec.md §4.6 get_agent_workload).
func (s *SQLiteStorage) GetAgentWorkload(ctx context.Context, entityID string) (*storage.AgentWorkload, error) {
	workload := &storage.AgentWorkload{EntityID: entityID, StatusCounts: map[types.TaskStatus]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM elements
		WHERE type = 'task' AND assignee = ? AND deleted_at IS NULL
		  AND status NOT IN ('closed', 'tombstone')
		GROUP BY status
	`, entityID)
	if err != nil {
		return nil, errs.Storage(err, "count agent workload")
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errs.Storage(err, "scan agent workload status count")
		}
		workload.StatusCounts[types.TaskStatus(status)] = n
		workload.TotalTasks += n
	}
	return workload, rows.Err()
}
