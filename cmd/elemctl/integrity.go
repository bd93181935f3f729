package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var integrityCmd = &cobra.Command{
	Use:   "integrity-check",
	Short: "Check the database for structural problems",
	Long:  `Runs SQLite's own integrity_check pragma, reporting every problem found. Foreign-key consistency is not checked.`,
	RunE:  runIntegrity,
}

type integrityResult struct {
	Path     string   `json:"path"`
	Problems []string `json:"problems"`
}

func runIntegrity(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, log, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	problems, err := store.IntegrityCheck(ctx)
	if err != nil {
		return err
	}
	log.Info("integrity check complete", "path", store.Path(), "problems", len(problems))

	result := integrityResult{Path: store.Path(), Problems: problems}
	if jsonFlag {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
	}
	if len(problems) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", result.Path)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d problem(s)\n", result.Path, len(problems))
	for _, p := range problems {
		fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
	}
	return nil
}
