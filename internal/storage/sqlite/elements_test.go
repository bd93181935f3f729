package sqlite

import (
	"database/sql"
	"testing"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

func TestCreateElement_AssignsIDAndDefaults(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("new task")

	if task.ID == "" {
		t.Fatal("expected CreateElement to assign an ID")
	}
	if task.CreatedBy != "test-user" {
		t.Errorf("CreatedBy = %q, want %q", task.CreatedBy, "test-user")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("expected CreatedAt/UpdatedAt to be set")
	}
}

func TestCreateElement_DuplicateExplicitIDFails(t *testing.T) {
	env := newTestEnv(t)
	task := &types.Element{
		ID:   "el-fixed",
		Type: types.TypeTask,
		Task: &types.Task{Title: "first", Status: types.StatusOpen, Priority: 2, TaskType: types.TaskGeneric},
	}
	if err := env.Store.CreateElement(env.Ctx, task, "test-user"); err != nil {
		t.Fatalf("CreateElement failed: %v", err)
	}

	dup := &types.Element{
		ID:   "el-fixed",
		Type: types.TypeTask,
		Task: &types.Task{Title: "second", Status: types.StatusOpen, Priority: 2, TaskType: types.TaskGeneric},
	}
	if err := env.Store.CreateElement(env.Ctx, dup, "test-user"); !errs.Is(err, errs.CodeAlreadyExists) {
		t.Fatalf("expected ALREADY_EXISTS for a duplicate explicit ID, got %v", err)
	}
}

func TestGetElement_NotFoundForUnknownID(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Store.GetElement(env.Ctx, "el-nope", storage.GetOptions{}); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateElement_PersistsMutation(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("mutable")

	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusInProgress
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	got, err := env.Store.GetElement(env.Ctx, task.ID, storage.GetOptions{})
	if err != nil {
		t.Fatalf("GetElement failed: %v", err)
	}
	if got.Task.Status != types.StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Task.Status, types.StatusInProgress)
	}
}

func TestUpdateElement_OptimisticConcurrencyRejectsStaleToken(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("contested")
	staleToken := sql.NullTime{Time: task.UpdatedAt, Valid: true}

	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.Priority = 3
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("first UpdateElement failed: %v", err)
	}

	err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.Priority = 4
		return nil
	}, "test-user", &staleToken)
	if !errs.Is(err, errs.CodeConflict) {
		t.Fatalf("expected CONFLICT for a stale updatedAt token, got %v", err)
	}
}

func TestUpdateElement_OptimisticConcurrencyAcceptsCurrentToken(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("agreeable")
	currentToken := sql.NullTime{Time: task.UpdatedAt, Valid: true}

	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.Priority = 3
		return nil
	}, "test-user", &currentToken); err != nil {
		t.Fatalf("expected update with the current token to succeed, got %v", err)
	}
}

func TestUpdateElement_CannotSetStatusToTombstoneDirectly(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("no shortcuts")

	err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusTombstone
		return nil
	}, "test-user", nil)
	// The only route to tombstone is DeleteElement; UpdateElement rejects a
	// mutate closure that sets it.
	if !errs.Is(err, errs.CodeValidation) {
		t.Fatalf("expected VALIDATION when setting tombstone via UpdateElement, got %v", err)
	}
}

func TestDeleteElement_SoftDeleteTombstonesAndHidesByDefault(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("doomed")

	if err := env.Store.DeleteElement(env.Ctx, task.ID, "test-user", "no longer needed", false); err != nil {
		t.Fatalf("DeleteElement failed: %v", err)
	}

	if _, err := env.Store.GetElement(env.Ctx, task.ID, storage.GetOptions{}); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for a tombstoned element without includeDeleted, got %v", err)
	}

	got, err := env.Store.GetElement(env.Ctx, task.ID, storage.GetOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("expected GetElement(includeDeleted) to find the tombstone, got %v", err)
	}
	if got.Task.Status != types.StatusTombstone {
		t.Errorf("Status = %q, want %q", got.Task.Status, types.StatusTombstone)
	}
}

func TestDeleteElement_SecondDeleteIsAlreadyDeletedValidation(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("doomed twice")

	if err := env.Store.DeleteElement(env.Ctx, task.ID, "test-user", "first", false); err != nil {
		t.Fatalf("first DeleteElement failed: %v", err)
	}

	err := env.Store.DeleteElement(env.Ctx, task.ID, "test-user", "second", false)
	if !errs.Is(err, errs.CodeValidation) {
		t.Fatalf("expected VALIDATION for a second soft delete, got %v", err)
	}
	var asErr *errs.Error
	if e, ok := err.(*errs.Error); ok {
		asErr = e
	}
	if asErr == nil || asErr.Details["code"] != "already-deleted" {
		t.Errorf("expected details.code = %q, got %+v", "already-deleted", asErr)
	}
}

func TestDeleteElement_UnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Store.DeleteElement(env.Ctx, "el-nope", "test-user", "reason", false); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestListElements_FiltersByPriorityTaskTypeAndDeletedState(t *testing.T) {
	env := newTestEnv(t)
	bug := env.CreateTaskWith("a bug", types.StatusOpen, 1, types.TaskBug)
	chore := env.CreateTaskWith("a chore", types.StatusOpen, 3, types.TaskChore)
	deleted := env.CreateTask("going away")
	if err := env.Store.DeleteElement(env.Ctx, deleted.ID, "test-user", "cleanup", false); err != nil {
		t.Fatalf("DeleteElement failed: %v", err)
	}

	bugs, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask, TaskType: types.TaskBug})
	if err != nil {
		t.Fatalf("ListElements(TaskBug) failed: %v", err)
	}
	if len(bugs) != 1 || bugs[0].ID != bug.ID {
		t.Fatalf("expected only %s for TaskType=bug, got %v", bug.ID, bugs)
	}

	p3, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask, Priority: 3})
	if err != nil {
		t.Fatalf("ListElements(Priority=3) failed: %v", err)
	}
	if len(p3) != 1 || p3[0].ID != chore.ID {
		t.Fatalf("expected only %s for Priority=3, got %v", chore.ID, p3)
	}

	withDeleted, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("ListElements(IncludeDeleted) failed: %v", err)
	}
	foundDeleted := false
	for _, el := range withDeleted {
		if el.ID == deleted.ID {
			foundDeleted = true
		}
	}
	if !foundDeleted {
		t.Errorf("expected %s present when IncludeDeleted is set", deleted.ID)
	}

	withoutDeleted, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask})
	if err != nil {
		t.Fatalf("ListElements failed: %v", err)
	}
	for _, el := range withoutDeleted {
		if el.ID == deleted.ID {
			t.Errorf("expected %s excluded by default", deleted.ID)
		}
	}
}

func TestListElements_OffsetPaginatesWithoutLimit(t *testing.T) {
	env := newTestEnv(t)
	env.CreateTask("one")
	env.CreateTask("two")
	env.CreateTask("three")

	all, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask})
	if err != nil {
		t.Fatalf("ListElements failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks total, got %d", len(all))
	}

	offsetOne, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeTask, Offset: 1})
	if err != nil {
		t.Fatalf("ListElements(Offset=1) failed: %v", err)
	}
	if len(offsetOne) != 2 {
		t.Fatalf("expected 2 tasks after offsetting past the first, got %d", len(offsetOne))
	}
	if offsetOne[0].ID != all[1].ID {
		t.Errorf("expected offset result to start at the second newest element")
	}
}

func TestListElements_ExcludesEphemeralByDefault(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("scratch")
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Ephemeral = true
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	withoutEphemeral, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeWorkflow})
	if err != nil {
		t.Fatalf("ListElements failed: %v", err)
	}
	for _, el := range withoutEphemeral {
		if el.ID == wf.ID {
			t.Errorf("expected ephemeral workflow %s excluded by default", wf.ID)
		}
	}

	withEphemeral, err := env.Store.ListElements(env.Ctx, storage.Filter{Type: types.TypeWorkflow, IncludeEphemeral: true})
	if err != nil {
		t.Fatalf("ListElements(IncludeEphemeral) failed: %v", err)
	}
	found := false
	for _, el := range withEphemeral {
		if el.ID == wf.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s present when IncludeEphemeral is set", wf.ID)
	}
}
