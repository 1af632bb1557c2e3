package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/athena/internal/config"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load and validate the configuration (file, then ATHENA_* environment
overrides, then defaults) and print it as JSON. Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}
}
