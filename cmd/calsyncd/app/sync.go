package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tempora-hq/calsync-server/internal/config"
	enginesync "github.com/tempora-hq/calsync-server/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id]",
	Short: "Run a one-shot synchronization",
	Long: `Synchronize sources once and exit. With a source id (e.g. "cursor:work")
only that source is synced; without one, every enabled source is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("data-dir", "./data", "Directory for local state when no database is configured")
	syncCmd.Flags().String("kind", "", "Only sync sources of this kind (cursor or feed)")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	kind, _ := cmd.Flags().GetString("kind")

	var kinds []config.SourceKind
	switch kind {
	case "":
	case string(config.SourceKindCursor), string(config.SourceKindFeed):
		kinds = append(kinds, config.SourceKind(kind))
	default:
		return fmt.Errorf("unknown source kind %q", kind)
	}

	deps, err := buildDependencies(ctx, configPath, dataDir)
	if err != nil {
		return err
	}
	defer deps.Close()

	var results []enginesync.Result
	if len(args) == 1 {
		if kind != "" {
			return fmt.Errorf("--kind cannot be combined with a source id")
		}
		results = append(results, deps.orch.SyncOne(ctx, args[0]))
	} else {
		results = deps.orch.SyncAll(ctx, kinds...)
	}

	failed := 0
	for _, res := range results {
		if res.Success {
			slog.Info("Source synced",
				"source", res.SourceID,
				"mode", res.Mode,
				"added", res.Counts.Added,
				"updated", res.Counts.Updated,
				"deleted", res.Counts.Deleted)
			continue
		}
		failed++
		slog.Error("Source sync failed", "source", res.SourceID, "error", res.Err)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sources failed to sync", failed, len(results))
	}
	return nil
}
