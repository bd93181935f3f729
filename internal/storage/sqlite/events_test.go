package sqlite

import (
	"testing"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

func TestGetTasksInWorkflow_RejectsUnknownAndNonWorkflowIDs(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("not a workflow")

	if _, err := env.Store.GetTasksInWorkflow(env.Ctx, "el-nope", storage.Filter{}); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for an unknown workflow id, got %v", err)
	}
	if _, err := env.Store.GetTasksInWorkflow(env.Ctx, task.ID, storage.Filter{}); !errs.Is(err, errs.CodeValidation) {
		t.Fatalf("expected VALIDATION when workflowID names a task, got %v", err)
	}
}

func TestGetTasksInWorkflow_ReturnsParentChildDescendants(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("release")
	step1 := env.CreateTask("build")
	step2 := env.CreateTask("deploy")
	env.AddParentChild(step1, wf)
	env.AddParentChild(step2, wf)
	outsider := env.CreateTask("unrelated")
	_ = outsider

	tasks, err := env.Store.GetTasksInWorkflow(env.Ctx, wf.ID, storage.Filter{})
	if err != nil {
		t.Fatalf("GetTasksInWorkflow failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
}

func TestGetReadyTasksInWorkflow_IntersectsWorkflowAndReadiness(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("release")
	ready := env.CreateTask("build")
	env.AddParentChild(ready, wf)
	blockerTask := env.CreateTask("upstream blocker")
	blocked := env.CreateTask("deploy")
	env.AddParentChild(blocked, wf)
	env.AddDep(blocked, blockerTask)
	// A non-terminal workflow parent blocks its tasks, so complete it first.
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowCompleted
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", wf.ID, err)
	}

	readyInWF, err := env.Store.GetReadyTasksInWorkflow(env.Ctx, wf.ID, storage.Filter{})
	if err != nil {
		t.Fatalf("GetReadyTasksInWorkflow failed: %v", err)
	}
	if len(readyInWF) != 1 || readyInWF[0].ID != ready.ID {
		t.Fatalf("expected only %s ready in workflow, got %v", ready.ID, readyInWF)
	}
}

func TestGetWorkflowProgress_ComputesCountsAndFlooredPercentage(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("release")
	a := env.CreateTask("a")
	b := env.CreateTask("b")
	c := env.CreateTask("c")
	env.AddParentChild(a, wf)
	env.AddParentChild(b, wf)
	env.AddParentChild(c, wf)

	if err := env.Store.UpdateElement(env.Ctx, a.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusClosed
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowCompleted
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", wf.ID, err)
	}

	progress, err := env.Store.GetWorkflowProgress(env.Ctx, wf.ID)
	if err != nil {
		t.Fatalf("GetWorkflowProgress failed: %v", err)
	}
	if progress.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want 3", progress.TotalTasks)
	}
	// 1/3 closed -> floor(100 * 1 / 3) = 33, not a rounded 34.
	if progress.CompletionPercentage != 33 {
		t.Errorf("CompletionPercentage = %d, want 33 (floored)", progress.CompletionPercentage)
	}
	if progress.StatusCounts[types.StatusClosed] != 1 {
		t.Errorf("StatusCounts[closed] = %d, want 1", progress.StatusCounts[types.StatusClosed])
	}
	if progress.ReadyTasks != 2 {
		t.Errorf("ReadyTasks = %d, want 2 (b and c, both open with a completed parent)", progress.ReadyTasks)
	}
}

func TestGetWorkflowProgress_UnknownWorkflowIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Store.GetWorkflowProgress(env.Ctx, "el-nope"); !errs.Is(err, errs.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGetAgentWorkload_CountsNonTerminalTasksByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.CreateTaskWithAssignee("task one", "agent-1")
	second := env.CreateTaskWithAssignee("task two", "agent-1")
	if err := env.Store.UpdateElement(env.Ctx, second.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusInProgress
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}
	closedOne := env.CreateTaskWithAssignee("task three", "agent-1")
	if err := env.Store.UpdateElement(env.Ctx, closedOne.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusClosed
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}
	env.CreateTaskWithAssignee("someone else's task", "agent-2")

	workload, err := env.Store.GetAgentWorkload(env.Ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgentWorkload failed: %v", err)
	}
	if workload.TotalTasks != 2 {
		t.Errorf("TotalTasks = %d, want 2 (closed task excluded)", workload.TotalTasks)
	}
	if workload.StatusCounts[types.StatusOpen] != 1 {
		t.Errorf("StatusCounts[open] = %d, want 1", workload.StatusCounts[types.StatusOpen])
	}
	if workload.StatusCounts[types.StatusInProgress] != 1 {
		t.Errorf("StatusCounts[in_progress] = %d, want 1", workload.StatusCounts[types.StatusInProgress])
	}
}
