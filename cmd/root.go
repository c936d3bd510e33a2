package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/synkro/synkro/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "synkro",
	Short: "Per-tenant CRM and messaging sync with AI daily reports",
	Long:  "Syncs CRM deals and messaging dialogs per tenant into an analytic store, builds AI daily reports with a statistical fallback, and answers follow-up questions in chat.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
