package playbook

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/events"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Options configures a Pour: whether the resulting workflow and its tasks
// are ephemeral (candidates for garbage collection), and tags/metadata to
// stamp on the created workflow element.
type Options struct {
	Ephemeral bool
	Tags      []string
	Metadata  types.Metadata
}

// resolvedStep is a playbook step after variable substitution and
// condition evaluation, with dependsOn rewired past any skipped step.
type resolvedStep struct {
	types.PlaybookStep
	DependsOn []string
}

// Plan is the side-effect-free result of resolving a Playbook against a
// variable map: titles and conditions substituted, skipped steps removed,
// and the remaining steps' dependsOn edges rewired around them. It holds
// no element or dependency IDs, since those are only assigned once the
// workflow element itself exists — id generation for the workflow reuses
// the engine's own content-addressed allocator (C2), and task IDs are
// hierarchical child numbers of the workflow, neither of which is
// knowable before the workflow row is written. Persist performs that
// allocation and the row writes together in one transaction; everything
// in Plan is decided up front so the failure modes that the Pour
// algorithm actually cares about (unknown variables, missing required
// variables, unrecognized conditions, cyclic dependsOn) surface before
// any row is touched.
type Plan struct {
	WorkflowTitle string
	Variables     map[string]interface{}
	Steps         []resolvedStep
	SkippedSteps  []string
}

// BuildPlan resolves pb against vars, merging declared defaults, applying
// template substitution, evaluating step conditions, and rewiring
// dependsOn edges around any step that evaluates false.
func BuildPlan(pb *types.Playbook, vars map[string]interface{}) (*Plan, error) {
	if pb == nil {
		return nil, errs.Validation("playbook is required")
	}
	if err := Validate(pb); err != nil {
		return nil, err
	}

	merged, err := mergeVars(pb.Variables, vars)
	if err != nil {
		return nil, err
	}

	title, err := substitute(pb.Name, merged)
	if err != nil {
		return nil, err
	}

	skipped := map[string]bool{}
	var survivors []types.PlaybookStep
	for _, step := range pb.Steps {
		st := step

		st.Title, err = substitute(step.Title, merged)
		if err != nil {
			return nil, err
		}
		if step.Assignee != "" {
			st.Assignee, err = substitute(step.Assignee, merged)
			if err != nil {
				return nil, err
			}
		}
		if step.Condition != "" {
			st.Condition, err = substitute(step.Condition, merged)
			if err != nil {
				return nil, err
			}
		}

		ok, err := evaluateCondition(st.Condition)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped[step.ID] = true
			continue
		}
		survivors = append(survivors, st)
	}

	rewired := rewireDependsOn(pb.Steps, skipped)
	steps := make([]resolvedStep, 0, len(survivors))
	for _, st := range survivors {
		steps = append(steps, resolvedStep{PlaybookStep: st, DependsOn: rewired[st.ID]})
	}

	skippedIDs := make([]string, 0, len(skipped))
	for id := range skipped {
		skippedIDs = append(skippedIDs, id)
	}
	sort.Strings(skippedIDs)

	return &Plan{
		WorkflowTitle: title,
		Variables:     merged,
		Steps:         steps,
		SkippedSteps:  skippedIDs,
	}, nil
}

// mergeVars fills in declared defaults for variables absent from given,
// and fails VALIDATION if a required variable has neither.
func mergeVars(declared []types.PlaybookVariable, given map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(declared)+len(given))
	for k, v := range given {
		out[k] = v
	}
	for _, d := range declared {
		if _, ok := out[d.Name]; ok {
			continue
		}
		if d.Required {
			return nil, errs.Validationf("missing required variable %q", d.Name)
		}
		if d.Default != nil {
			out[d.Name] = d.Default
		}
	}
	return out, nil
}

// substitute replaces every {{name}} placeholder in s with vars[name],
// failing VALIDATION on the first name not present in vars.
func substitute(s string, vars map[string]interface{}) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	var firstErr error
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := vars[name]
		if !ok {
			if firstErr == nil {
				firstErr = errs.Validationf("unknown template variable %q", name)
			}
			return match
		}
		return fmt.Sprint(v)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// evaluateCondition interprets raw (already substituted) as a boolean:
// the literal strings "true"/"false", or a JSON boolean. Anything else is
// not a recognized literal. An empty condition always runs.
func evaluateCondition(raw string) (bool, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return true, nil
	}
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	var b bool
	if err := json.Unmarshal([]byte(s), &b); err == nil {
		return b, nil
	}
	return false, errs.Validationf("condition %q is not a recognized boolean literal", raw)
}

// rewireDependsOn computes, for every surviving (non-skipped) step, the
// set of dependsOn targets once every skipped predecessor is replaced by
// its own dependsOn, transitively. This preserves ordering across a
// skipped step: if X depends on a skipped Y that depended on Z, X ends up
// depending on Z directly.
func rewireDependsOn(steps []types.PlaybookStep, skipped map[string]bool) map[string][]string {
	depsByID := make(map[string][]string, len(steps))
	for _, s := range steps {
		depsByID[s.ID] = s.DependsOn
	}

	var resolve func(id string, seen map[string]bool) []string
	resolve = func(id string, seen map[string]bool) []string {
		if seen[id] {
			return nil
		}
		seen[id] = true
		if !skipped[id] {
			return []string{id}
		}
		var out []string
		for _, dep := range depsByID[id] {
			out = append(out, resolve(dep, seen)...)
		}
		return out
	}

	rewired := make(map[string][]string, len(steps))
	for _, s := range steps {
		if skipped[s.ID] {
			continue
		}
		var deps []string
		dedup := map[string]bool{}
		for _, d := range s.DependsOn {
			for _, r := range resolve(d, map[string]bool{}) {
				if !dedup[r] {
					dedup[r] = true
					deps = append(deps, r)
				}
			}
		}
		rewired[s.ID] = deps
	}
	return rewired
}

// StepTask pairs a surviving step's ID with the task element created for
// it.
type StepTask struct {
	StepID string
	Task   *types.Element
}

// Result is the materialized outcome of Persist: the created workflow and
// task elements, the edges wired between them, and the steps that were
// skipped by their condition.
type Result struct {
	Workflow                *types.Element
	Tasks                   []StepTask
	ParentChildDependencies []*types.Dependency
	BlocksDependencies      []*types.Dependency
	SkippedSteps            []string
}

// Persist creates plan's workflow and task elements and wires their
// dependency edges in one transaction, then (if bus is non-nil) publishes
// the creation and dependency-added events the bus would have seen had
// each operation run standalone — mutations inside RunInTransaction do
// not self-publish, since the transaction can still roll back after any
// one of them runs.
func Persist(ctx context.Context, store storage.Storage, bus *events.Bus, plan *Plan, createdBy string, opts Options) (*Result, error) {
	result := &Result{SkippedSteps: plan.SkippedSteps}

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		tags := types.NewStringSet(opts.Tags...)
		metadata := opts.Metadata
		if metadata == nil {
			metadata = types.Metadata{}
		}

		workflow := &types.Element{
			Type:     types.TypeWorkflow,
			Tags:     tags,
			Metadata: metadata,
			Workflow: &types.Workflow{
				Title:     plan.WorkflowTitle,
				Status:    types.WorkflowRunning,
				Ephemeral: opts.Ephemeral,
				Variables: plan.Variables,
			},
		}
		if err := tx.CreateElement(ctx, workflow, createdBy); err != nil {
			return err
		}

		childIDs, err := tx.ReserveChildIDs(ctx, workflow.ID, len(plan.Steps))
		if err != nil {
			return err
		}

		stepToTaskID := make(map[string]string, len(plan.Steps))
		tasks := make([]StepTask, 0, len(plan.Steps))
		for i, step := range plan.Steps {
			taskEl := &types.Element{
				ID:   childIDs[i],
				Type: types.TypeTask,
				Task: &types.Task{
					Title:      step.Title,
					Status:     types.StatusOpen,
					Priority:   step.Priority,
					Complexity: step.Complexity,
					TaskType:   types.TaskGeneric,
					Assignee:   step.Assignee,
				},
			}
			if err := tx.CreateElement(ctx, taskEl, createdBy); err != nil {
				return err
			}
			stepToTaskID[step.ID] = taskEl.ID
			tasks = append(tasks, StepTask{StepID: step.ID, Task: taskEl})

			pc := &types.Dependency{SourceID: taskEl.ID, TargetID: workflow.ID, Type: types.DepParentChild, CreatedBy: createdBy}
			if err := tx.AddDependency(ctx, pc); err != nil {
				return err
			}
			result.ParentChildDependencies = append(result.ParentChildDependencies, pc)
		}

		for _, step := range plan.Steps {
			taskID := stepToTaskID[step.ID]
			for _, depStepID := range step.DependsOn {
				depTaskID, ok := stepToTaskID[depStepID]
				if !ok {
					return errs.Validationf("step %q depends on unresolved step %q", step.ID, depStepID)
				}
				// sourceId=step, targetId=dep: step is blocked by dep,
				// matching the Dependency Graph's blocks convention
				// (source=blocked, target=blocker) directly.
				blocks := &types.Dependency{SourceID: taskID, TargetID: depTaskID, Type: types.DepBlocks, CreatedBy: createdBy}
				if err := tx.AddDependency(ctx, blocks); err != nil {
					return err
				}
				result.BlocksDependencies = append(result.BlocksDependencies, blocks)
			}
		}

		result.Workflow = workflow
		result.Tasks = tasks
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(bus, result, createdBy)
	return result, nil
}

func publish(bus *events.Bus, result *Result, actor string) {
	if bus == nil {
		return
	}
	bus.Publish(events.Event{Type: events.ElementCreated, ElementID: result.Workflow.ID, Actor: actor})
	for _, st := range result.Tasks {
		bus.Publish(events.Event{Type: events.ElementCreated, ElementID: st.Task.ID, Actor: actor})
	}
	for _, dep := range result.ParentChildDependencies {
		bus.Publish(events.Event{Type: events.DependencyAdded, ElementID: dep.SourceID, RelatedID: dep.TargetID, Actor: actor, Data: map[string]interface{}{"type": string(dep.Type)}})
	}
	for _, dep := range result.BlocksDependencies {
		bus.Publish(events.Event{Type: events.DependencyAdded, ElementID: dep.SourceID, RelatedID: dep.TargetID, Actor: actor, Data: map[string]interface{}{"type": string(dep.Type)}})
	}
}
