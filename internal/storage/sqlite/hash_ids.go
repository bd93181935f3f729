package sqlite

import (
	"context"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/idgen"
)

// getNextChildNumber atomically increments and returns the next child
// counter for a parent element, using INSERT...ON CONFLICT so concurrent
// callers never observe the same number twice.
func getNextChildNumber(ctx context.Context, q queryer, parentID string) (int, error) {
	var nextChild int
	err := q.QueryRowContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child)
		VALUES (?, 1)
		ON CONFLICT(parent_id) DO UPDATE SET
			last_child = last_child + 1
		RETURNING last_child
	`, parentID).Scan(&nextChild)
	if err != nil {
		return 0, errs.Storage(err, "generate next child number for parent "+parentID)
	}
	return nextChild, nil
}

// nextChildID generates the next hierarchical child ID for parentID, formatted
// as parentID.N (e.g. el-a3f8e9.1 or el-a3f8e9.1.5), rejecting IDs that would
// exceed the maximum hierarchy depth.
func nextChildID(ctx context.Context, q queryer, parentID string) (string, error) {
	exists, err := elementExists(ctx, q, parentID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errs.NotFound("element", parentID)
	}

	if err := idgen.CheckHierarchyDepth(parentID, idgen.DefaultMaxHierarchyDepth); err != nil {
		return "", err
	}

	n, err := getNextChildNumber(ctx, q, parentID)
	if err != nil {
		return "", err
	}
	return idgen.ChildID(parentID, n), nil
}

// NextChildID generates the next hierarchical child ID for parentID.
func (s *SQLiteStorage) NextChildID(ctx context.Context, parentID string) (string, error) {
	return nextChildID(ctx, s.q(), parentID)
}

func (t *connTx) NextChildID(ctx context.Context, parentID string) (string, error) {
	return nextChildID(ctx, t.q(), parentID)
}

// reserveChildIDs allocates n sequential hierarchical child IDs under
// parentID in one pass, used by Workflow Pour to assign every surviving
// step's task ID from the same counter a single NextChildID call would
// advance, without requiring the caller to round-trip n times.
func reserveChildIDs(ctx context.Context, q queryer, parentID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	exists, err := elementExists(ctx, q, parentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errs.NotFound("element", parentID)
	}
	if err := idgen.CheckHierarchyDepth(parentID, idgen.DefaultMaxHierarchyDepth); err != nil {
		return nil, err
	}

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		num, err := getNextChildNumber(ctx, q, parentID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, idgen.ChildID(parentID, num))
	}
	return ids, nil
}

// ReserveChildIDs allocates n sequential hierarchical child IDs under
// parentID.
func (s *SQLiteStorage) ReserveChildIDs(ctx context.Context, parentID string, n int) ([]string, error) {
	return reserveChildIDs(ctx, s.q(), parentID, n)
}

func (t *connTx) ReserveChildIDs(ctx context.Context, parentID string, n int) ([]string, error) {
	return reserveChildIDs(ctx, t.q(), parentID, n)
}

// ensureChildCounterUpdated ensures the child_counters table has a value for
// parentID that is at least childNum, so a child created with an explicit
// ID rather than NextChildID never collides with a later generated one.
func ensureChildCounterUpdated(ctx context.Context, q queryer, parentID string, childNum int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO child_counters (parent_id, last_child)
		VALUES (?, ?)
		ON CONFLICT(parent_id) DO UPDATE SET
			last_child = MAX(last_child, excluded.last_child)
	`, parentID, childNum)
	if err != nil {
		return errs.Storage(err, "update child counter for parent "+parentID)
	}
	return nil
}
