package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elemental-run/elemental/internal/config"
	"github.com/elemental-run/elemental/internal/playbook"
)

var (
	pourVars      []string
	pourTags      []string
	pourEphemeral bool
)

var pourCmd = &cobra.Command{
	Use:   "pour <playbook>",
	Short: "Expand a playbook template into a workflow and its tasks",
	Long: `Searches the configured playbook directories (playbooks.paths) for
<playbook>.toml, resolves it against --var key=value pairs, and persists the
resulting workflow and task elements in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: runPour,
}

func init() {
	pourCmd.Flags().StringArrayVar(&pourVars, "var", nil, "playbook variable as key=value, repeatable")
	pourCmd.Flags().StringArrayVar(&pourTags, "tag", nil, "tag to stamp on the created workflow, repeatable")
	pourCmd.Flags().BoolVar(&pourEphemeral, "ephemeral", true, "mark the workflow ephemeral so gc can burn it once terminal")
}

func runPour(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	vars, err := parsePourVars(pourVars)
	if err != nil {
		return err
	}

	name := args[0]
	pb, err := playbook.Find(name, playbook.SearchPath(cfg.PlaybookPaths))
	if err != nil {
		return err
	}

	plan, err := playbook.BuildPlan(pb, vars)
	if err != nil {
		return err
	}

	result, err := playbook.Persist(ctx, store, nil, plan, resolveActor(), playbook.Options{
		Ephemeral: pourEphemeral,
		Tags:      pourTags,
	})
	if err != nil {
		return err
	}
	log.Info("pour complete", "playbook", name, "workflow", result.Workflow.ID, "tasks", len(result.Tasks), "skipped", len(result.SkippedSteps))

	if jsonFlag {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "workflow %s: %q (%d task(s))\n", result.Workflow.ID, plan.WorkflowTitle, len(result.Tasks))
	for _, st := range result.Tasks {
		fmt.Fprintf(out, "  - %s: %s\n", st.Task.ID, st.Task.Task.Title)
	}
	if len(plan.SkippedSteps) > 0 {
		fmt.Fprintf(out, "skipped: %s\n", strings.Join(plan.SkippedSteps, ", "))
	}
	return nil
}

func parsePourVars(pairs []string) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", p)
		}
		vars[key] = value
	}
	return vars, nil
}
