package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// collectWorkflowTaskIDs returns the IDs of every task linked to workflowID
// by a parent-child dependency, regardless of status, so a burn touches the
// whole set even if some tasks are already tombstoned.
func collectWorkflowTaskIDs(ctx context.Context, q queryer, workflowID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT source_id FROM dependencies
		WHERE target_id = ? AND type = 'parent-child'
	`, workflowID)
	if err != nil {
		return nil, errs.Storage(err, "collect workflow task ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage(err, "scan workflow task id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteIncidentDependencies deletes every dependency row touching any
// element in ids, on either side, and reports how many rows were removed.
// burnWorkflow calls this over the whole burn set so no edge survives that
// references a burned element, including edges to elements outside the set.
func deleteIncidentDependencies(ctx context.Context, q queryer, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, args...)

	res, err := q.ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE source_id IN (`+placeholders+`) OR target_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, errs.Storage(err, "delete incident dependencies")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Storage(err, "count deleted dependencies")
	}
	return int(n), nil
}

// burnWorkflow cascade-deletes workflowID and every task linked to it by a
// parent-child edge. Every dependency that touches the burn set is removed
// first, including edges to elements outside it, so no surviving element is
// left referencing a burned one. Deletion then proceeds leaves first (tasks,
// then the workflow) and follows the workflow's own Ephemeral flag: ephemeral
// workflows are hard-deleted with no trace, persistent ones are tombstoned
// so they still surface in history and export.
func burnWorkflow(ctx context.Context, q queryer, workflowID, actor string) (*storage.BurnResult, error) {
	workflow, err := getElement(ctx, q, workflowID)
	if err != nil {
		return nil, err
	}
	if workflow.Type != types.TypeWorkflow {
		return nil, errs.Validationf("%s is a %s, not a workflow", workflowID, workflow.Type)
	}

	taskIDs, err := collectWorkflowTaskIDs(ctx, q, workflowID)
	if err != nil {
		return nil, err
	}

	burnSet := make([]string, 0, len(taskIDs)+1)
	burnSet = append(burnSet, taskIDs...)
	burnSet = append(burnSet, workflowID)

	depsRemoved, err := deleteIncidentDependencies(ctx, q, burnSet)
	if err != nil {
		return nil, err
	}

	hard := workflow.Workflow.Ephemeral
	for _, id := range taskIDs {
		if err := deleteElement(ctx, q, id, actor, "workflow burned", hard); err != nil {
			return nil, err
		}
	}
	if err := deleteElement(ctx, q, workflowID, actor, "workflow burned", hard); err != nil {
		return nil, err
	}

	return &storage.BurnResult{
		WorkflowID:          workflowID,
		WasEphemeral:        hard,
		TasksDeleted:        len(taskIDs),
		DependenciesDeleted: depsRemoved,
	}, nil
}

// BurnWorkflow cascade-deletes a workflow and its tasks in one transaction,
// publishing a single WorkflowBurned event once the transaction commits.
func (s *SQLiteStorage) BurnWorkflow(ctx context.Context, workflowID, actor string) (*storage.BurnResult, error) {
	var result *storage.BurnResult
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		txn := tx.(*connTx) // package-internal: share the connection's queryer
		var err error
		result, err = burnWorkflow(ctx, txn.q(), workflowID, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.Event{
		Type:      events.WorkflowBurned,
		ElementID: result.WorkflowID,
		Actor:     actor,
		Data: map[string]interface{}{
			"tasksDeleted":        result.TasksDeleted,
			"dependenciesDeleted": result.DependenciesDeleted,
			"ephemeral":           result.WasEphemeral,
		},
	})
	return result, nil
}

// gcCandidates returns the IDs of ephemeral workflows in a terminal status
// whose closed_at is at or before cutoff.
func gcCandidates(ctx context.Context, q queryer, cutoff time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id FROM elements
		WHERE type = 'workflow' AND ephemeral = 1 AND deleted_at IS NULL
		  AND status IN ('completed', 'failed', 'cancelled')
		  AND closed_at IS NOT NULL AND closed_at <= ?
		ORDER BY closed_at ASC
	`, cutoff)
	if err != nil {
		return nil, errs.Storage(err, "query gc candidates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage(err, "scan gc candidate id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GarbageCollectWorkflows burns every ephemeral workflow that finished at
// least maxAge ago. With dryRun set, candidates are reported but left
// untouched.
func (s *SQLiteStorage) GarbageCollectWorkflows(ctx context.Context, maxAge time.Duration, dryRun bool, actor string) (*storage.GCResult, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	candidates, err := gcCandidates(ctx, s.q(), cutoff)
	if err != nil {
		return nil, err
	}

	result := &storage.GCResult{Candidates: candidates}
	if dryRun {
		return result, nil
	}

	for _, id := range candidates {
		burned, err := s.BurnWorkflow(ctx, id, actor)
		if err != nil {
			return nil, err
		}
		result.Burned = append(result.Burned, *burned)
	}
	return result, nil
}
