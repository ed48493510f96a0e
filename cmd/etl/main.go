package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "etl",
		Short:         "Hydrometric ingestion and reporting service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	root.PersistentFlags().String("catalog", "", "Override CATALOG_FILE")

	root.AddCommand(newServeCmd(), newPullCmd(), newReportCmd(), newStationsCmd(), newValidateCmd())
	return root
}
