package sqlite

import (
	"testing"
	"time"

	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

func TestReadiness_BlocksEdgeBlocksUntilTerminal(t *testing.T) {
	env := newTestEnv(t)
	blocker := env.CreateTask("blocker")
	blocked := env.CreateTask("blocked")
	env.AddDep(blocked, blocker)

	env.AssertReady(blocker)
	env.AssertBlocked(blocked)

	if err := env.Store.UpdateElement(env.Ctx, blocker.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusClosed
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	env.AssertReady(blocked)
}

func TestReadiness_ParentChildBlocksUntilParentTerminal(t *testing.T) {
	env := newTestEnv(t)
	parent := env.CreateTask("parent")
	child := env.CreateTask("child")
	env.AddParentChild(child, parent)

	// A non-terminal parent task derived-blocks its child per spec.md §3
	// condition (2), even with no direct "blocks" edge between them.
	env.AssertBlocked(child)

	if err := env.Store.UpdateElement(env.Ctx, parent.ID, func(el *types.Element) error {
		el.Task.Status = types.StatusClosed
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	env.AssertReady(child)
}

func TestReadiness_WorkflowParentUsesWorkflowTerminalStates(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("release")
	step := env.CreateTask("step")
	env.AddParentChild(step, wf)

	env.AssertBlocked(step)

	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowCompleted
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	env.AssertReady(step)
}

func TestReadiness_ScheduledForInFutureBlocks(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("scheduled")
	future := time.Now().UTC().Add(24 * time.Hour)

	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.ScheduledFor = &future
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	env.AssertBlocked(task)

	blocked, err := env.Store.GetBlockedTasks(env.Ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("GetBlockedTasks failed: %v", err)
	}
	found := false
	for _, bt := range blocked {
		if bt.Task.ID == task.ID {
			found = true
			if bt.BlockedBy != "" {
				t.Errorf("expected no edge blocker for a schedule-only block, got %q", bt.BlockedBy)
			}
			if bt.BlockReason != "scheduled" {
				t.Errorf("BlockReason = %q, want %q", bt.BlockReason, "scheduled")
			}
		}
	}
	if !found {
		t.Fatalf("expected %s in GetBlockedTasks", task.ID)
	}
}

func TestReadiness_PastScheduledForDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	task := env.CreateTask("past-scheduled")
	past := time.Now().UTC().Add(-time.Hour)

	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.ScheduledFor = &past
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	env.AssertReady(task)
}

func TestGetBlockedTasks_RepresentativeBlockerIsLexicographicallySmallest(t *testing.T) {
	env := newTestEnv(t)
	blocked := env.CreateTask("blocked")
	blockerHigh := env.CreateTaskWith("blocker-high", types.StatusOpen, 2, types.TaskGeneric)
	blockerLow := env.CreateTaskWith("blocker-low", types.StatusOpen, 2, types.TaskGeneric)
	env.AddDep(blocked, blockerHigh)
	env.AddDep(blocked, blockerLow)

	want := blockerHigh.ID
	if blockerLow.ID < blockerHigh.ID {
		want = blockerLow.ID
	}

	results, err := env.Store.GetBlockedTasks(env.Ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("GetBlockedTasks failed: %v", err)
	}
	for _, bt := range results {
		if bt.Task.ID == blocked.ID {
			if bt.BlockedBy != want {
				t.Errorf("BlockedBy = %q, want lexicographically smallest %q", bt.BlockedBy, want)
			}
			if bt.BlockReason != "blocks" {
				t.Errorf("BlockReason = %q, want %q", bt.BlockReason, "blocks")
			}
			return
		}
	}
	t.Fatalf("expected %s in GetBlockedTasks", blocked.ID)
}

func TestReadyAndBlocked_ArePartitioned(t *testing.T) {
	env := newTestEnv(t)
	ready := env.CreateTask("ready")
	blocker := env.CreateTask("blocker")
	blocked := env.CreateTask("blocked")
	env.AddDep(blocked, blocker)
	backlog := env.CreateTaskWith("in-backlog", types.StatusBacklog, 2, types.TaskGeneric)

	readyList, err := env.Store.GetReadyTasks(env.Ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("GetReadyTasks failed: %v", err)
	}
	blockedList, err := env.Store.GetBlockedTasks(env.Ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("GetBlockedTasks failed: %v", err)
	}

	readySet := map[string]bool{}
	for _, el := range readyList {
		readySet[el.ID] = true
	}
	blockedSet := map[string]bool{}
	for _, bt := range blockedList {
		blockedSet[bt.Task.ID] = true
		if readySet[bt.Task.ID] {
			t.Errorf("%s appears in both ready and blocked", bt.Task.ID)
		}
	}

	if !readySet[ready.ID] || !readySet[blocker.ID] {
		t.Errorf("expected %s and %s to be ready", ready.ID, blocker.ID)
	}
	if !blockedSet[blocked.ID] {
		t.Errorf("expected %s to be blocked", blocked.ID)
	}
	if readySet[backlog.ID] || blockedSet[backlog.ID] {
		t.Errorf("expected backlog task %s in neither ready nor blocked", backlog.ID)
	}
}

func TestGetReadyTasks_ExcludesEphemeralWorkflowDescendantsByDefault(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("scratch run")
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Ephemeral = true
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Status = types.WorkflowCompleted
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}
	step := env.CreateTask("ephemeral step")
	env.AddParentChild(step, wf)

	ids := env.GetReadyIDs()
	if ids[step.ID] {
		t.Errorf("expected %s excluded from ready by default (ephemeral workflow ancestor)", step.ID)
	}

	included, err := env.Store.GetReadyTasks(env.Ctx, storage.Filter{IncludeEphemeral: true})
	if err != nil {
		t.Fatalf("GetReadyTasks(IncludeEphemeral) failed: %v", err)
	}
	found := false
	for _, el := range included {
		if el.ID == step.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s included when IncludeEphemeral is set", step.ID)
	}
}

func TestGetBacklogTasks_ReturnsOnlyBacklogStatus(t *testing.T) {
	env := newTestEnv(t)
	backlog := env.CreateTaskWith("queued", types.StatusBacklog, 2, types.TaskGeneric)
	_ = env.CreateTask("open-one")

	tasks, err := env.Store.GetBacklogTasks(env.Ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("GetBacklogTasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != backlog.ID {
		t.Fatalf("expected only %s in backlog, got %v", backlog.ID, tasks)
	}
}
