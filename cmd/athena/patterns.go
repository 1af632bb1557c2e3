package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/athena/internal/learning"
)

func newPatternsCmd(flags *globalFlags) *cobra.Command {
	var (
		output        string
		validatedOnly bool
		patternType   string
	)
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List learned patterns",
		Long: `List the patterns saved by previous runs, most confident first.

Examples:
  athena patterns
  athena patterns --validated --type timing
  athena patterns -o json`,
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

			all, err := a.store.Patterns(cmd.Context())
			if err != nil {
				return err
			}
			patterns := make([]learning.Pattern, 0, len(all))
			for _, p := range all {
				if validatedOnly && !p.Validated {
					continue
				}
				if patternType != "" && string(p.Type) != patternType {
					continue
				}
				patterns = append(patterns, p)
			}

			if output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), patterns)
			}
			return writePatternTable(cmd.OutOrStdout(), patterns)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text or json)")
	cmd.Flags().BoolVar(&validatedOnly, "validated", false, "only show validated patterns")
	cmd.Flags().StringVar(&patternType, "type", "", "only show patterns of this type (success_rate or timing)")
	return cmd
}
