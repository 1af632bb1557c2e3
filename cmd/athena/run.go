package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/athena/internal/learning"
	"github.com/fyrsmithlabs/athena/internal/schedule"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one learning pass over the stored executions",
		Long: `Run the learning pipeline once: extract patterns from the stored task
executions, validate the uncertain ones, then save them and publish an
update event when publishing is enabled.

Examples:
  # Learn and print a summary table
  athena run

  # Learn and print the full result as JSON
  athena run --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.close(ctx)
			}()
			if err := a.initPipeline(cmd.Context()); err != nil {
				return err
			}

			res, runErr := a.trigger.Run(cmd.Context(), schedule.TriggerManual)
			if res != nil {
				if err := printRunResult(cmd, output, res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text or json)")
	return cmd
}

func printRunResult(cmd *cobra.Command, output string, res *learning.RunResult) error {
	out := cmd.OutOrStdout()
	if output == outputJSON {
		return writeJSON(out, res)
	}
	s := res.Stats
	fmt.Fprintf(out, "Run %s: %d records, %d patterns (%d confident, %d uncertain, %d validated, %d fallback) in %s\n\n",
		res.RunID, s.Records, s.Extracted, s.Confident, s.Uncertain, s.Validated, s.Fallbacks,
		s.Duration.Round(time.Millisecond))
	return writePatternTable(out, res.Patterns)
}
