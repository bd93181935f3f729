package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/elemental-run/elemental/internal/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide element and readiness counts",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStatistics(ctx)
	if err != nil {
		return err
	}
	log.Info("stats computed", "total", stats.TotalElements, "ready", stats.ReadyCount, "blocked", stats.BlockedCount)

	if jsonFlag {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "total elements:   %d\n", stats.TotalElements)
	fmt.Fprintf(out, "ready tasks:      %d\n", stats.ReadyCount)
	fmt.Fprintf(out, "blocked tasks:    %d\n", stats.BlockedCount)

	fmt.Fprintln(out, "\nby type:")
	typeNames := make([]string, 0, len(stats.ByType))
	for t := range stats.ByType {
		typeNames = append(typeNames, string(t))
	}
	sort.Strings(typeNames)
	for _, t := range typeNames {
		fmt.Fprintf(out, "  %-12s %d\n", t, stats.ByType[elementType(t)])
	}

	fmt.Fprintln(out, "\ntasks by status:")
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(out, "  %-12s %d\n", s, stats.ByStatus[taskStatus(s)])
	}
	return nil
}

func elementType(s string) types.ElementType { return types.ElementType(s) }
func taskStatus(s string) types.TaskStatus   { return types.TaskStatus(s) }
