package cmd

import (
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/app"
	"github.com/jmehdipour/payment-aggregator/internal/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		stores, err := app.OpenStores(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = stores.Close() }()

		ctx := cmd.Context()
		if err := migrations.Apply(ctx, stores.SQL); err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.Database.Driver, err)
		}
		log.Info("migrated primary store", zap.String("driver", cfg.Database.Driver))

		if stores.CH != nil {
			if err := migrations.Apply(ctx, stores.CH); err != nil {
				return fmt.Errorf("migrate clickhouse: %w", err)
			}
			log.Info("migrated clickhouse")
		}

		fmt.Println(">> Migration complete ✅")
		return nil
	},
}
