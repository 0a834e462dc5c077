package cmd

import (
	"context"
	"log"

	"github.com/frahmantamala/qrpay/internal/auth"
	"github.com/frahmantamala/qrpay/internal/setting"
	"github.com/spf13/cobra"
)

var (
	seedUsername string
	seedPassword string
	seedRole     string
	seedSecret   string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed default settings and an admin account",
	Long:  `Writes every missing setting with its default value and creates or updates one admin console account.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		app, err := newApp(cfg)
		if err != nil {
			log.Fatalf("failed to init app: %v", err)
		}
		defer app.Close()

		ctx := context.Background()
		if err := app.Settings.EnsureDefaults(ctx); err != nil {
			log.Fatalf("failed to seed settings: %v", err)
		}
		app.Logger.Info("default settings ensured")

		if seedSecret != "" {
			if err := app.Settings.Set(ctx, setting.KeySecret, seedSecret); err != nil {
				log.Fatalf("failed to store signing key: %v", err)
			}
			app.Logger.Info("signing key stored")
		}

		if seedPassword == "" {
			app.Logger.Warn("no --password given, admin account not seeded")
			return
		}
		admin, err := app.Auth.EnsureAdmin(ctx, seedUsername, seedPassword, seedRole)
		if err != nil {
			log.Fatalf("failed to seed admin: %v", err)
		}
		app.Logger.Info("admin account seeded", "username", admin.Username, "role", admin.Role)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedUsername, "username", "admin", "admin console username")
	seedCmd.Flags().StringVar(&seedPassword, "password", "", "admin console password")
	seedCmd.Flags().StringVar(&seedRole, "role", auth.RoleAdmin, "admin console role (admin or operator)")
	seedCmd.Flags().StringVar(&seedSecret, "secret", "", "communication key shared with merchants and the monitor agent")
}
