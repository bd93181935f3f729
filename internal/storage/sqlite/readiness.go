package sqlite

import (
	"context"
	"sort"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// GetReadyTasks returns open or in_progress tasks that no direct edge
// blocks, reading from the ready_tasks view. Tasks whose nearest
// parent-child ancestor is an ephemeral workflow are excluded unless
// filter.IncludeEphemeral is set.
func (s *SQLiteStorage) GetReadyTasks(ctx context.Context, filter storage.Filter) ([]*types.Element, error) {
	query := `SELECT ` + elementColumns + ` FROM ready_tasks WHERE 1=1`
	var args []interface{}

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
	for _, tag := range filter.Tags {
		query += ` AND id IN (SELECT element_id FROM element_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	if !filter.IncludeEphemeral {
		query += `
			AND NOT EXISTS (
				WITH RECURSIVE ancestors(id) AS (
					SELECT target_id FROM dependencies WHERE source_id = ready_tasks.id AND type = 'parent-child'
					UNION ALL
					SELECT d.target_id FROM dependencies d JOIN ancestors a ON d.source_id = a.id WHERE d.type = 'parent-child'
				)
				SELECT 1 FROM ancestors anc
				JOIN elements w ON w.id = anc.id
				WHERE w.type = 'workflow' AND w.ephemeral = 1
			)`
	}
	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryElements(ctx, query, args...)
}

// GetBlockedTasks returns, for every non-terminal, non-backlog task absent
// from ready_tasks, a BlockedTask naming one representative blocker: the
// lexicographically smallest element ID among its active "blocks"
// predecessors and non-terminal parent-child parents (spec.md §4.6
// blocked(filter)). A task blocked only by its own status or a future
// scheduledFor carries no edge-based BlockedBy.
func (s *SQLiteStorage) GetBlockedTasks(ctx context.Context, filter storage.Filter) ([]*storage.BlockedTask, error) {
	query := `SELECT ` + elementColumns + ` FROM blocked_tasks WHERE 1=1`
	var args []interface{}

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
	for _, tag := range filter.Tags {
		query += ` AND id IN (SELECT element_id FROM element_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	tasks, err := s.queryElements(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	out := make([]*storage.BlockedTask, 0, len(tasks))
	for _, task := range tasks {
		bt, err := s.blockedDetail(ctx, task)
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, nil
}

// blockedCandidate is one edge-based reason a task qualifies as blocked,
// paired with the blocking element's ID so candidates can be ranked.
type blockedCandidate struct {
	id     string
	reason string
}

// blockedDetail evaluates the three derived-blocked conditions (spec.md
// §3) for task and picks the representative blocker deterministically.
func (s *SQLiteStorage) blockedDetail(ctx context.Context, task *types.Element) (*storage.BlockedTask, error) {
	var candidates []blockedCandidate

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.target_id FROM dependencies d
		JOIN elements blocker ON blocker.id = d.target_id
		WHERE d.source_id = ? AND d.type = 'blocks' AND blocker.status NOT IN ('closed', 'tombstone')
	`, task.ID)
	if err != nil {
		return nil, errs.Storage(err, "query blocks predecessors")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, errs.Storage(err, "scan blocks predecessor")
		}
		candidates = append(candidates, blockedCandidate{id, "blocks"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err, "iterate blocks predecessors")
	}

	parentRows, err := s.db.QueryContext(ctx, `
		SELECT d.target_id FROM dependencies d
		JOIN elements parent ON parent.id = d.target_id
		WHERE d.source_id = ? AND d.type = 'parent-child'
		  AND (
		    (parent.type = 'workflow' AND parent.status NOT IN ('completed', 'cancelled'))
		    OR (parent.type != 'workflow' AND parent.status NOT IN ('closed', 'tombstone'))
		  )
	`, task.ID)
	if err != nil {
		return nil, errs.Storage(err, "query parent-child predecessors")
	}
	for parentRows.Next() {
		var id string
		if err := parentRows.Scan(&id); err != nil {
			parentRows.Close()
			return nil, errs.Storage(err, "scan parent-child predecessor")
		}
		candidates = append(candidates, blockedCandidate{id, "parent-child"})
	}
	parentRows.Close()
	if err := parentRows.Err(); err != nil {
		return nil, errs.Storage(err, "iterate parent-child predecessors")
	}

	bt := &storage.BlockedTask{Task: task}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })
		bt.BlockedBy = candidates[0].id
		bt.BlockReason = candidates[0].reason
		return bt, nil
	}

	if task.Task != nil && task.Task.ScheduledFor != nil && task.Task.ScheduledFor.After(time.Now().UTC()) {
		bt.BlockReason = "scheduled"
		return bt, nil
	}

	bt.BlockReason = "status"
	return bt, nil
}

// GetBacklogTasks returns tasks with status=backlog, per spec.md §4.6
// backlog(filter): the counterpart to ready/blocked for tasks that haven't
// entered the active queue yet.
func (s *SQLiteStorage) GetBacklogTasks(ctx context.Context, filter storage.Filter) ([]*types.Element, error) {
	query := `SELECT ` + elementColumns + ` FROM elements WHERE type = 'task' AND status = 'backlog' AND deleted_at IS NULL`
	var args []interface{}

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
	for _, tag := range filter.Tags {
		query += ` AND id IN (SELECT element_id FROM element_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY priority ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryElements(ctx, query, args...)
}

// IsBlocked reports whether elementID has any incomplete direct "blocks"
// predecessor (the target side of its own "blocks" edges), returning the
// blocking element IDs if so.
func (s *SQLiteStorage) IsBlocked(ctx context.Context, elementID string) (bool, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.target_id
		FROM dependencies d
		JOIN elements blocker ON blocker.id = d.target_id
		WHERE d.source_id = ? AND d.type = 'blocks'
		  AND blocker.status NOT IN ('closed', 'tombstone')
	`, elementID)
	if err != nil {
		return false, nil, errs.Storage(err, "check blocked state")
	}
	defer rows.Close()

	var blockers []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return false, nil, errs.Storage(err, "scan blocker id")
		}
		blockers = append(blockers, id)
	}
	if err := rows.Err(); err != nil {
		return false, nil, errs.Storage(err, "iterate blockers")
	}
	return len(blockers) > 0, blockers, nil
}
