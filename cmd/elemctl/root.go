package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/elemental-run/elemental/internal/config"
	"github.com/elemental-run/elemental/internal/logging"
	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/storage/sqlite"
)

var (
	dbPathFlag string
	actorFlag  string
	jsonFlag   bool
)

var rootCmd = &cobra.Command{
	Use:           "elemctl",
	Short:         "Operator tool for the element and dependency engine",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor identity recorded against mutations")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "emit machine-readable JSON output")

	rootCmd.AddCommand(migrateCmd, integrityCmd, statsCmd, gcCmd, pourCmd)
}

// openStore loads config, builds the slog/lumberjack logging sink described
// in the engine's ambient stack, and opens the store at the resolved
// database path. Every subcommand opens the store this way so `--db`
// consistently overrides config regardless of which command runs.
func openStore(ctx context.Context) (storage.Storage, *slog.Logger, error) {
	if err := config.Initialize(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := logging.New(logging.Config{
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		AlsoStderr: !jsonFlag,
	})

	path := dbPathFlag
	if path == "" {
		path = cfg.Database
	}

	store, err := sqlite.Open(ctx, storage.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	return store, log, nil
}

func resolveActor() string {
	return config.GetIdentity(actorFlag)
}
