package main

import (
	"github.com/spf13/cobra"
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "List controllable features",
	Long: `List the features meowctl can switch, the characteristic each one is bound to
and the command written for on and off. Features without an off command are one-shot.`,
	Args: cobra.NoArgs,
	RunE: runFeatures,
}

func runFeatures(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cat, err := cfg.Catalog()
	if err != nil {
		return err
	}
	return writeFeatureTable(cmd.OutOrStdout(), cat.Features())
}
