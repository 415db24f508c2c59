package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/payment-aggregator/internal/app"
	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmehdipour/payment-aggregator/internal/kafka"
	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/metrics"
	"github.com/jmehdipour/payment-aggregator/internal/service/payment"
	"github.com/jmehdipour/payment-aggregator/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var routerCmd = &cobra.Command{
	Use:   "router",
	Short: "Route queued payments from Kafka through each project's fallback chain",
	RunE:  runRouter,
}

func runRouter(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is empty")
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) stores + services
	stores, err := app.OpenStores(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	a, err := app.New(cfg, stores.SQL, stores.CH, stores.Redis, log)
	if err != nil {
		return fmt.Errorf("wire app: %w", err)
	}

	// 3) kafka consumer
	kc := kafka.ConfigFrom(cfg.Kafka)
	if kc.Topic == "" {
		kc.Topic = payment.IntentsKafkaTopic
	}
	if kc.GroupID == "" {
		kc.GroupID = "payagg-router"
	}
	consumer := kafka.NewConsumerFromConfig(kc)
	defer func() { _ = consumer.Close() }()

	w := worker.NewRouterKafka(consumer, a.Payments, cfg.Dispatcher.WorkerCount, log.Named("worker"))

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("router started",
		zap.String("topic", kc.Topic),
		zap.String("group", kc.GroupID),
		zap.Int("workers", w.Workers),
	)

	return w.Run(ctx)
}
