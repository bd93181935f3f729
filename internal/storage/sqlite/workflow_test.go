package sqlite

import (
	"testing"
	"time"

	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

func finishWorkflow(t *testing.T, env *testEnv, wf *types.Element, status types.WorkflowStatus, finishedAt time.Time) {
	t.Helper()
	err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Status = status
		el.Workflow.FinishedAt = &finishedAt
		return nil
	}, "test-user", nil)
	if err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", wf.ID, err)
	}
}

func TestBurnWorkflow_RemovesTasksAndEdges(t *testing.T) {
	env := newTestEnv(t)

	wf := env.CreateWorkflow("release train")
	step1 := env.CreateTask("build")
	step2 := env.CreateTask("deploy")
	env.AddParentChild(step1, wf)
	env.AddParentChild(step2, wf)
	env.AddDep(step2, step1)

	outside := env.CreateTask("unrelated dependent")
	env.AddDep(outside, step1)

	result, err := env.Store.BurnWorkflow(env.Ctx, wf.ID, "test-user")
	if err != nil {
		t.Fatalf("BurnWorkflow failed: %v", err)
	}
	if result.TasksDeleted != 2 {
		t.Errorf("expected 2 tasks deleted, got %d", result.TasksDeleted)
	}
	if result.DependenciesDeleted < 3 {
		t.Errorf("expected at least 3 dependency edges removed, got %d", result.DependenciesDeleted)
	}

	if _, err := env.Store.GetElement(env.Ctx, wf.ID, storage.GetOptions{}); err == nil {
		t.Errorf("expected workflow %s to be gone after burn", wf.ID)
	}
	if _, err := env.Store.GetElement(env.Ctx, step1.ID, storage.GetOptions{}); err == nil {
		t.Errorf("expected task %s to be gone after burn", step1.ID)
	}

	deps, err := env.Store.GetDependencyRecords(env.Ctx, outside.ID)
	if err != nil {
		t.Fatalf("GetDependencyRecords(%s) failed: %v", outside.ID, err)
	}
	for _, d := range deps {
		if d.SourceID == step1.ID || d.TargetID == step1.ID {
			t.Errorf("expected no edge referencing burned task %s, found %+v", step1.ID, d)
		}
	}
}

func TestBurnWorkflow_NonEphemeralSoftDeletes(t *testing.T) {
	env := newTestEnv(t)
	wf := env.CreateWorkflow("persistent run")

	result, err := env.Store.BurnWorkflow(env.Ctx, wf.ID, "test-user")
	if err != nil {
		t.Fatalf("BurnWorkflow failed: %v", err)
	}
	if result.WasEphemeral {
		t.Errorf("expected WasEphemeral false for a non-ephemeral workflow")
	}
	if _, err := env.Store.GetElement(env.Ctx, wf.ID, storage.GetOptions{IncludeDeleted: true}); err != nil {
		t.Errorf("expected soft-deleted workflow %s to remain readable with IncludeDeleted, got %v", wf.ID, err)
	}
}

func TestGarbageCollectWorkflows_DryRunLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)

	wf := env.CreateWorkflow("old ephemeral run")
	wf.Workflow.Ephemeral = true
	if err := env.Store.UpdateElement(env.Ctx, wf.ID, func(el *types.Element) error {
		el.Workflow.Ephemeral = true
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", wf.ID, err)
	}
	finishWorkflow(t, env, wf, types.WorkflowCompleted, time.Now().UTC().Add(-2*time.Hour))

	result, err := env.Store.GarbageCollectWorkflows(env.Ctx, time.Hour, true, "test-user")
	if err != nil {
		t.Fatalf("GarbageCollectWorkflows (dry run) failed: %v", err)
	}
	if len(result.Candidates) != 1 || result.Candidates[0] != wf.ID {
		t.Errorf("expected [%s] as the sole candidate, got %v", wf.ID, result.Candidates)
	}
	if len(result.Burned) != 0 {
		t.Errorf("expected nothing burned in a dry run, got %d", len(result.Burned))
	}

	if _, err := env.Store.GetElement(env.Ctx, wf.ID, storage.GetOptions{}); err != nil {
		t.Errorf("expected workflow %s to still exist after a dry run: %v", wf.ID, err)
	}
}

func TestGarbageCollectWorkflows_BurnsOnlyEligible(t *testing.T) {
	env := newTestEnv(t)

	stale := env.CreateWorkflow("stale ephemeral run")
	if err := env.Store.UpdateElement(env.Ctx, stale.ID, func(el *types.Element) error {
		el.Workflow.Ephemeral = true
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", stale.ID, err)
	}
	finishWorkflow(t, env, stale, types.WorkflowCompleted, time.Now().UTC().Add(-2*time.Hour))

	recent := env.CreateWorkflow("recent ephemeral run")
	if err := env.Store.UpdateElement(env.Ctx, recent.ID, func(el *types.Element) error {
		el.Workflow.Ephemeral = true
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement(%s) failed: %v", recent.ID, err)
	}
	finishWorkflow(t, env, recent, types.WorkflowCompleted, time.Now().UTC().Add(-time.Minute))

	persistent := env.CreateWorkflow("persistent completed run")
	finishWorkflow(t, env, persistent, types.WorkflowCompleted, time.Now().UTC().Add(-2*time.Hour))

	result, err := env.Store.GarbageCollectWorkflows(env.Ctx, time.Hour, false, "test-user")
	if err != nil {
		t.Fatalf("GarbageCollectWorkflows failed: %v", err)
	}
	if len(result.Burned) != 1 || result.Burned[0].WorkflowID != stale.ID {
		t.Fatalf("expected only %s burned, got %v", stale.ID, result.Burned)
	}

	if _, err := env.Store.GetElement(env.Ctx, stale.ID, storage.GetOptions{}); err == nil {
		t.Errorf("expected stale workflow %s to be gone", stale.ID)
	}
	if _, err := env.Store.GetElement(env.Ctx, recent.ID, storage.GetOptions{}); err != nil {
		t.Errorf("expected recent workflow %s to survive: %v", recent.ID, err)
	}
	if _, err := env.Store.GetElement(env.Ctx, persistent.ID, storage.GetOptions{}); err != nil {
		t.Errorf("expected non-ephemeral workflow %s to survive: %v", persistent.ID, err)
	}
}
