package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

// testEnv provides a test environment with common setup and helpers.
// Use newTestEnv(t) to create a test environment with automatic cleanup.
type testEnv struct {
	t     *testing.T
	Store *SQLiteStorage
	Ctx   context.Context
}

// newTestEnv creates a new test environment with a configured store.
// The store is automatically cleaned up when the test completes.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		t:     t,
		Store: newTestStore(t),
		Ctx:   context.Background(),
	}
}

// CreateTask creates a test task element with the given title and defaults.
func (e *testEnv) CreateTask(title string) *types.Element {
	e.t.Helper()
	return e.CreateTaskWith(title, types.StatusOpen, 2, types.TaskGeneric)
}

// CreateTaskWith creates a test task element with specific attributes.
func (e *testEnv) CreateTaskWith(title string, status types.TaskStatus, priority int, taskType types.TaskType) *types.Element {
	e.t.Helper()
	el := &types.Element{
		Type: types.TypeTask,
		Task: &types.Task{
			Title:    title,
			Status:   status,
			Priority: priority,
			TaskType: taskType,
		},
	}
	if err := e.Store.CreateElement(e.Ctx, el, "test-user"); err != nil {
		e.t.Fatalf("CreateElement(%q) failed: %v", title, err)
	}
	return el
}

// CreateTaskWithAssignee creates a test task element with an assignee.
func (e *testEnv) CreateTaskWithAssignee(title, assignee string) *types.Element {
	e.t.Helper()
	el := &types.Element{
		Type: types.TypeTask,
		Task: &types.Task{
			Title:    title,
			Status:   types.StatusOpen,
			Priority: 2,
			TaskType: types.TaskGeneric,
			Assignee: assignee,
		},
	}
	if err := e.Store.CreateElement(e.Ctx, el, "test-user"); err != nil {
		e.t.Fatalf("CreateElement(%q) failed: %v", title, err)
	}
	return el
}

// CreateWorkflow creates a workflow element.
func (e *testEnv) CreateWorkflow(title string) *types.Element {
	e.t.Helper()
	el := &types.Element{
		Type: types.TypeWorkflow,
		Workflow: &types.Workflow{
			Title:  title,
			Status: types.WorkflowRunning,
		},
	}
	if err := e.Store.CreateElement(e.Ctx, el, "test-user"); err != nil {
		e.t.Fatalf("CreateElement(%q) failed: %v", title, err)
	}
	return el
}

// CreateBug creates a bug-type task element.
func (e *testEnv) CreateBug(title string, priority int) *types.Element {
	e.t.Helper()
	return e.CreateTaskWith(title, types.StatusOpen, priority, types.TaskBug)
}

// AddDep adds a "blocks" dependency: blocked is blocked until blocker
// reaches a terminal state.
func (e *testEnv) AddDep(blocked, blocker *types.Element) {
	e.t.Helper()
	e.addDepType(blocked, blocker, types.DepBlocks)
}

// addDepType adds a dependency edge of the given type, source to target.
func (e *testEnv) addDepType(source, target *types.Element, depType types.DependencyType) {
	e.t.Helper()
	dep := &types.Dependency{
		SourceID: source.ID,
		TargetID: target.ID,
		Type:     depType,
	}
	if err := e.Store.AddDependency(e.Ctx, dep); err != nil {
		e.t.Fatalf("AddDependency(%s -> %s) failed: %v", source.ID, target.ID, err)
	}
}

// AddParentChild adds a parent-child dependency (child belongs to parent).
func (e *testEnv) AddParentChild(child, parent *types.Element) {
	e.t.Helper()
	e.addDepType(child, parent, types.DepParentChild)
}

// Close soft-deletes the element with the given reason.
func (e *testEnv) Close(el *types.Element, reason string) {
	e.t.Helper()
	if err := e.Store.DeleteElement(e.Ctx, el.ID, "test-user", reason, false); err != nil {
		e.t.Fatalf("DeleteElement(%s) failed: %v", el.ID, err)
	}
}

// GetReady gets ready tasks with the given filter.
func (e *testEnv) GetReady(filter storage.Filter) []*types.Element {
	e.t.Helper()
	ready, err := e.Store.GetReadyTasks(e.Ctx, filter)
	if err != nil {
		e.t.Fatalf("GetReadyTasks failed: %v", err)
	}
	return ready
}

// GetReadyIDs returns the set of task element IDs currently ready.
func (e *testEnv) GetReadyIDs() map[string]bool {
	e.t.Helper()
	ready := e.GetReady(storage.Filter{Type: types.TypeTask})
	ids := make(map[string]bool)
	for _, el := range ready {
		ids[el.ID] = true
	}
	return ids
}

// AssertReady asserts that el is in the ready task list.
func (e *testEnv) AssertReady(el *types.Element) {
	e.t.Helper()
	ids := e.GetReadyIDs()
	if !ids[el.ID] {
		e.t.Errorf("expected %s to be ready, but it was blocked", el.ID)
	}
}

// AssertBlocked asserts that el is NOT in the ready task list.
func (e *testEnv) AssertBlocked(el *types.Element) {
	e.t.Helper()
	ids := e.GetReadyIDs()
	if ids[el.ID] {
		e.t.Errorf("expected %s to be blocked, but it was ready", el.ID)
	}
}

// newTestStore creates a SQLiteStorage backed by a database file in the
// test's own temporary directory, isolated per test so parallel tests never
// share state.
func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()

	ctx := context.Background()
	dbPath := t.TempDir() + "/test.db"
	store, err := New(ctx, dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("failed to close test database: %v", cerr)
		}
	})

	return store
}

// fixedTime returns a deterministic timestamp for tests that need to
// assert on stored timestamps without relying on wall-clock time.
func fixedTime() time.Time {
	return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}
