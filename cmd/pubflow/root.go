package pubflow

import (
	"github.com/spf13/cobra"
)

// RootCmd builds the pubflow command tree.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubflow",
		Short: "Event-driven automation engine for pub workflows",
		Long: "pubflow reacts to pub lifecycle events (stage changes, action outcomes) " +
			"by matching rules and executing configured automations through a durable job queue.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	cmd.PersistentFlags().Bool("log-source", false, "Annotate logs with source locations")
	cmd.AddCommand(workerCmd())
	cmd.AddCommand(migrateCmd())
	return cmd
}
