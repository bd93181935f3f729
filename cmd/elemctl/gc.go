package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	gcMaxAge time.Duration
	gcDryRun bool
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Burn ephemeral workflows that finished long enough ago",
	Long: `Burns every ephemeral workflow whose status is completed, failed or
cancelled and whose closing timestamp is at least --max-age in the past.
With --dry-run, candidates are reported but left untouched.`,
	RunE: runGC,
}

func init() {
	gcCmd.Flags().DurationVar(&gcMaxAge, "max-age", time.Hour, "minimum age since a workflow closed before it is eligible")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "report candidates without burning them")
}

func runGC(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	actor := resolveActor()
	result, err := store.GarbageCollectWorkflows(ctx, gcMaxAge, gcDryRun, actor)
	if err != nil {
		return err
	}
	log.Info("gc sweep complete", "candidates", len(result.Candidates), "burned", len(result.Burned), "dryRun", gcDryRun)

	if jsonFlag {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}

	out := cmd.OutOrStdout()
	if gcDryRun {
		fmt.Fprintf(out, "%d candidate(s):\n", len(result.Candidates))
		for _, id := range result.Candidates {
			fmt.Fprintf(out, "  - %s\n", id)
		}
		return nil
	}

	fmt.Fprintf(out, "burned %d workflow(s):\n", len(result.Burned))
	for _, b := range result.Burned {
		fmt.Fprintf(out, "  - %s: %d task(s), %d dependency edge(s)\n", b.WorkflowID, b.TasksDeleted, b.DependenciesDeleted)
	}
	return nil
}
