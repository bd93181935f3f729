package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// maxDependencyDepth bounds recursive dependency traversal so a pathological
// or (pre-fix) cyclic graph can't make a single query loop forever.
const maxDependencyDepth = 100

func wouldCycle(ctx context.Context, q queryer, sourceID, targetID string, depType types.DependencyType) (bool, error) {
	// Per the engine's same-type cycle policy, only edges of depType
	// contribute to the reachability check: adding a "blocks" edge cannot
	// be defeated by an existing "relates-to" path, and vice versa.
	var exists bool
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE paths AS (
			SELECT source_id, target_id, 1 AS depth
			FROM dependencies
			WHERE source_id = ? AND type = ?

			UNION ALL

			SELECT d.source_id, d.target_id, p.depth + 1
			FROM dependencies d
			JOIN paths p ON d.source_id = p.target_id
			WHERE d.type = ? AND p.depth < ?
		)
		SELECT EXISTS(SELECT 1 FROM paths WHERE target_id = ?)
	`, targetID, depType, depType, maxDependencyDepth, sourceID).Scan(&exists)
	if err != nil {
		return false, errs.Storage(err, "check dependency cycle")
	}
	return exists, nil
}

func addDependency(ctx context.Context, q queryer, dep *types.Dependency) error {
	if !dep.Type.IsValid() {
		return errs.Validationf("invalid dependency type %q", dep.Type)
	}
	if dep.SourceID == dep.TargetID {
		return errs.Validation("an element cannot depend on itself")
	}
	if _, err := getElement(ctx, q, dep.SourceID); err != nil {
		return err
	}
	if _, err := getElement(ctx, q, dep.TargetID); err != nil {
		return err
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}
	if dep.Metadata == nil {
		dep.Metadata = types.Metadata{}
	}

	if dep.Type.IsCycleChecked() {
		cyclic, err := wouldCycle(ctx, q, dep.SourceID, dep.TargetID, dep.Type)
		if err != nil {
			return err
		}
		if cyclic {
			return errs.CycleDetected(dep.SourceID, dep.TargetID, string(dep.Type))
		}
	}

	metaJSON, err := marshalMetadata(dep.Metadata)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO dependencies (source_id, target_id, type, created_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, dep.SourceID, dep.TargetID, string(dep.Type), dep.CreatedAt, dep.CreatedBy, metaJSON)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errs.AlreadyExists("dependency", dep.SourceID+"->"+dep.TargetID+":"+string(dep.Type))
		}
		return errs.Storage(err, "insert dependency")
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, new_value, created_at)
		VALUES (?, 'dependency_added', ?, ?, ?)
	`, dep.SourceID, dep.CreatedBy, string(dep.Type)+" -> "+dep.TargetID, dep.CreatedAt); err != nil {
		return errs.Storage(err, "record dependency event")
	}

	if err := markDirty(ctx, q, dep.SourceID); err != nil {
		return err
	}
	return markDirty(ctx, q, dep.TargetID)
}

func (s *SQLiteStorage) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if err := addDependency(ctx, s.q(), dep); err != nil {
		return err
	}
	s.publish(events.Event{
		Type:      events.DependencyAdded,
		ElementID: dep.SourceID,
		RelatedID: dep.TargetID,
		Actor:     dep.CreatedBy,
		Data:      map[string]interface{}{"type": string(dep.Type)},
	})
	return nil
}

func (t *connTx) AddDependency(ctx context.Context, dep *types.Dependency) error {
	return addDependency(ctx, t.q(), dep)
}

func (s *SQLiteStorage) WouldCycle(ctx context.Context, sourceID, targetID string, depType types.DependencyType) (bool, error) {
	return wouldCycle(ctx, s.q(), sourceID, targetID, depType)
}

func removeDependency(ctx context.Context, q queryer, sourceID, targetID string, depType types.DependencyType) error {
	res, err := q.ExecContext(ctx, `
		DELETE FROM dependencies WHERE source_id = ? AND target_id = ? AND type = ?
	`, sourceID, targetID, string(depType))
	if err != nil {
		return errs.Storage(err, "remove dependency")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Storage(err, "check removed dependency rows")
	}
	if n == 0 {
		return errs.NotFound("dependency", sourceID+"->"+targetID+":"+string(depType))
	}

	if _, err := q.ExecContext(ctx, `
		INSERT INTO events (element_id, event_type, actor, old_value, created_at)
		VALUES (?, 'dependency_removed', '', ?, ?)
	`, sourceID, string(depType)+" -> "+targetID, time.Now().UTC()); err != nil {
		return errs.Storage(err, "record dependency removal event")
	}

	if err := markDirty(ctx, q, sourceID); err != nil {
		return err
	}
	return markDirty(ctx, q, targetID)
}

func (s *SQLiteStorage) RemoveDependency(ctx context.Context, sourceID, targetID string, depType types.DependencyType) error {
	if err := removeDependency(ctx, s.q(), sourceID, targetID, depType); err != nil {
		return err
	}
	s.publish(events.Event{
		Type:      events.DependencyRemoved,
		ElementID: sourceID,
		RelatedID: targetID,
		Data:      map[string]interface{}{"type": string(depType)},
	})
	return nil
}

func (t *connTx) RemoveDependency(ctx context.Context, sourceID, targetID string, depType types.DependencyType) error {
	return removeDependency(ctx, t.q(), sourceID, targetID, depType)
}

// GetDependencies returns the elements elementID depends on: the target
// side of elementID's own outgoing edges (e.g. elementID's blocker, or its
// parent), i.e. what must complete, exist, or be addressed before
// elementID can be considered ready or resolved.
func (s *SQLiteStorage) GetDependencies(ctx context.Context, elementID string, depType types.DependencyType) ([]*types.Element, error) {
	query := `SELECT ` + prefixColumns("e.") + ` FROM elements e
		JOIN dependencies d ON e.id = d.target_id
		WHERE d.source_id = ? AND e.deleted_at IS NULL`
	args := []interface{}{elementID}
	if depType != "" {
		query += ` AND d.type = ?`
		args = append(args, string(depType))
	}
	query += ` ORDER BY e.id`
	return s.queryElements(ctx, query, args...)
}

// GetDependents returns the elements that depend on elementID: the source
// side of edges targeting elementID (e.g. tasks elementID blocks, or
// elementID's children).
func (s *SQLiteStorage) GetDependents(ctx context.Context, elementID string, depType types.DependencyType) ([]*types.Element, error) {
	query := `SELECT ` + prefixColumns("e.") + ` FROM elements e
		JOIN dependencies d ON e.id = d.source_id
		WHERE d.target_id = ? AND e.deleted_at IS NULL`
	args := []interface{}{elementID}
	if depType != "" {
		query += ` AND d.type = ?`
		args = append(args, string(depType))
	}
	query += ` ORDER BY e.id`
	return s.queryElements(ctx, query, args...)
}

func (s *SQLiteStorage) GetDependencyRecords(ctx context.Context, elementID string) ([]*types.Dependency, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, type, created_at, created_by, metadata
		FROM dependencies WHERE source_id = ? ORDER BY created_at ASC
	`, elementID)
	if err != nil {
		return nil, errs.Storage(err, "get dependency records")
	}
	defer rows.Close()

	var out []*types.Dependency
	for rows.Next() {
		var dep types.Dependency
		var metaJSON string
		if err := rows.Scan(&dep.SourceID, &dep.TargetID, &dep.Type, &dep.CreatedAt, &dep.CreatedBy, &metaJSON); err != nil {
			return nil, errs.Storage(err, "scan dependency record")
		}
		if err := unmarshalMetadata(metaJSON, &dep.Metadata); err != nil {
			return nil, err
		}
		out = append(out, &dep)
	}
	return out, rows.Err()
}

// GetDependencyTree walks both the dependency graph (what elementID depends
// on) and the dependent graph (what depends on elementID) from elementID,
// per spec.md §4.4's {root, nodeCount, dependencyDepth, dependentDepth}
// shape. Each side deduplicates nodes at their shallowest depth and breaks
// ties lexicographically by ID for deterministic output.
func (s *SQLiteStorage) GetDependencyTree(ctx context.Context, elementID string, maxDepth int) (*storage.DependencyTree, error) {
	root, err := s.GetElement(ctx, elementID, storage.GetOptions{})
	if err != nil {
		return nil, err
	}

	deps, err := s.dependencyTreeSide(ctx, elementID, maxDepth, false)
	if err != nil {
		return nil, err
	}
	dependents, err := s.dependencyTreeSide(ctx, elementID, maxDepth, true)
	if err != nil {
		return nil, err
	}

	tree := &storage.DependencyTree{
		Root:         root,
		Dependencies: deps,
		Dependents:   dependents,
		NodeCount:    len(deps) + len(dependents),
	}
	for _, n := range deps {
		if n.Depth > tree.DependencyDepth {
			tree.DependencyDepth = n.Depth
		}
	}
	for _, n := range dependents {
		if n.Depth > tree.DependentDepth {
			tree.DependentDepth = n.Depth
		}
	}
	return tree, nil
}

// dependencyTreeSide walks one direction of the dependency graph from
// elementID: the dependency side (reverse=false) or the dependent side
// (reverse=true).
func (s *SQLiteStorage) dependencyTreeSide(ctx context.Context, elementID string, maxDepth int, reverse bool) ([]*storage.TreeNode, error) {
	if maxDepth <= 0 {
		maxDepth = 50
	}

	fromCol, toCol := "source_id", "target_id"
	if reverse {
		fromCol, toCol = "target_id", "source_id"
	}

	query := `
		WITH RECURSIVE tree AS (
			SELECT ` + toCol + ` AS node_id, type, 1 AS depth
			FROM dependencies WHERE ` + fromCol + ` = ?

			UNION ALL

			SELECT d.` + toCol + `, d.type, t.depth + 1
			FROM dependencies d
			JOIN tree t ON d.` + fromCol + ` = t.node_id
			WHERE t.depth < ?
		)
		SELECT node_id, type, MIN(depth) AS depth
		FROM tree
		GROUP BY node_id, type
		ORDER BY depth ASC, node_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, elementID, maxDepth)
	if err != nil {
		return nil, errs.Storage(err, "query dependency tree")
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []*storage.TreeNode
	for rows.Next() {
		var nodeID string
		var depType types.DependencyType
		var depth int
		if err := rows.Scan(&nodeID, &depType, &depth); err != nil {
			return nil, errs.Storage(err, "scan dependency tree row")
		}
		if seen[nodeID] {
			continue
		}
		seen[nodeID] = true

		el, err := s.GetElement(ctx, nodeID, storage.GetOptions{})
		if err != nil {
			continue // node may have been hard-deleted; skip rather than fail the whole tree
		}
		out = append(out, &storage.TreeNode{Element: el, Type: depType, Depth: depth})
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) queryElements(ctx context.Context, query string, args ...interface{}) ([]*types.Element, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage(err, "query elements")
	}
	defer rows.Close()

	var out []*types.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, errs.Storage(err, "scan element")
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// prefixColumns qualifies elementColumns with a table alias for use in
// joined queries.
func prefixColumns(prefix string) string {
	cols := strings.Split(strings.ReplaceAll(elementColumns, "\n", ""), ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func marshalMetadata(m types.Metadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errs.Internal(err, "marshal metadata")
	}
	return string(b), nil
}

func unmarshalMetadata(raw string, out *types.Metadata) error {
	if raw == "" {
		*out = types.Metadata{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errs.Internal(err, "unmarshal metadata")
	}
	return nil
}
