package cmd

import (
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/app"
	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/service/project"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedOwner string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo project and three providers",
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

		a, err := app.New(cfg, stores.SQL, stores.CH, stores.Redis, log)
		if err != nil {
			return fmt.Errorf("wire app: %w", err)
		}

		log.Info("seeding demo project", zap.String("owner", seedOwner))
		p, key, err := seedProject(cmd, a.Projects, seedOwner)
		if err != nil {
			return err
		}

		fmt.Printf(">> Seed completed ✅\nproject: %s\napi key: %s (shown once)\n", p.ID, key)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedOwner, "owner", "demo-owner", "owner id for the demo project")
}

// seedProject creates a demo project routed stripe → adyen → paypal.
func seedProject(cmd *cobra.Command, svc *project.Service, owner string) (model.Project, string, error) {
	ctx := cmd.Context()
	p, key, err := svc.CreateProject(ctx, owner, project.CreateProjectInput{
		Name:        "Demo Shop",
		Description: "seeded demo project",
	})
	if err != nil {
		return model.Project{}, "", fmt.Errorf("create project: %w", err)
	}

	providers := []project.ProviderInput{
		{ProviderName: "stripe", IsPrimary: true, Credentials: project.Credentials{"secret_key": "sk_test_demo"}},
		{ProviderName: "adyen", Priority: 1, Credentials: project.Credentials{"api_key": "ak_test_demo", "merchant_account": "DemoShop"}},
		{ProviderName: "paypal", Priority: 2, Credentials: project.Credentials{"client_id": "demo", "client_secret": "demo"}},
	}
	for _, in := range providers {
		if _, err := svc.AddProvider(ctx, p.ID, in); err != nil {
			return model.Project{}, "", fmt.Errorf("add provider %s: %w", in.ProviderName, err)
		}
	}
	return p, key, nil
}
