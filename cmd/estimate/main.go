package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trial-estimator/internal/shared/config"
	"trial-estimator/internal/shared/telemetry"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Offline clinical trial cost estimation",
	Long:  "Extracts study parameters from protocol documents, derives stage estimates and fills the budget workbook without the API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if err := telemetry.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
