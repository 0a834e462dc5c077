package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Order maintenance commands",
}

var purgeOlderThan time.Duration

var purgeOrderCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete settled or expired orders older than a retention window",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		app, err := newApp(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		olderThan := purgeOlderThan
		if olderThan <= 0 {
			olderThan = cfg.Sweeper.Retention
		}

		deleted, err := app.Service.Purge(context.Background(), olderThan)
		if err != nil {
			app.Logger.Error("purge failed", "error", err)
			return
		}
		app.Logger.Info("orders purged", "deleted", deleted, "older_than", olderThan.String())
	},
}

func init() {
	purgeOrderCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "Age cutoff (defaults to sweeper.retention)")

	orderCmd.AddCommand(purgeOrderCmd)
	rootCmd.AddCommand(orderCmd)
}
