// Package app provides the entry point for the calendar sync server application.
package app

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "calsyncd",
	DisableAutoGenTag: true,
	Short:             "Calendar synchronization server",
	Long: `calsyncd keeps a local event cache consistent with external calendar
sources: cursor-capable calendar APIs synced incrementally, and read-only
ICS feed subscriptions fetched whole. It serves the cache and the sync
audit log over a REST API.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for the sync server.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
	return rootCmd
}
