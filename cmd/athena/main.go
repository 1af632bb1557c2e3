// Package main implements the athena CLI: one-shot and scheduled pattern
// learning over recorded task executions, plus the operations API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "athena",
		Short: "Learn task outcome patterns from execution history",
		Long: `athena groups recorded task executions by shared attributes, extracts
success-rate and timing patterns, validates the uncertain ones with an
evaluator model and stores the results.

Examples:
  # Record executions, then learn from them once
  athena ingest executions.json
  athena run

  # Serve the operations API and learn on a schedule
  athena serve`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "",
		"config file (default ~/.config/athena/config.yaml)")

	root.AddCommand(
		newRunCmd(flags),
		newServeCmd(flags),
		newIngestCmd(flags),
		newPatternsCmd(flags),
		newConfigCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "athena by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
