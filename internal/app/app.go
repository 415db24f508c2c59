// Package app wires stores, services and the router from configuration.
// serve and the router worker share it.
package app

import (
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmehdipour/payment-aggregator/internal/dispatcher"
	"github.com/jmehdipour/payment-aggregator/internal/logger"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmehdipour/payment-aggregator/internal/routing"
	"github.com/jmehdipour/payment-aggregator/internal/secret"
	"github.com/jmehdipour/payment-aggregator/internal/service/apikey"
	"github.com/jmehdipour/payment-aggregator/internal/service/auth"
	"github.com/jmehdipour/payment-aggregator/internal/service/credential"
	"github.com/jmehdipour/payment-aggregator/internal/service/payment"
	"github.com/jmehdipour/payment-aggregator/internal/service/project"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Projects    *project.Service
	Payments    *payment.Service
	Gate        *auth.Gate
	Selector    *routing.Selector
	Router      *dispatcher.Router
	Credentials *credential.Store
	Attempts    repository.CHAttemptsRepository // nil when ClickHouse is disabled
}

// New builds the application graph. chDB and rds are optional.
func New(cfg config.Config, sqlDB, chDB *sqlx.DB, rds *redis.Client, log *zap.Logger) (*App, error) {
	log = logger.OrNop(log)

	sealer, err := secret.NewSealer(cfg.Secrets.Key, cfg.Secrets.KeyID)
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}

	// repos (SQL)
	projectsRepo := repository.NewProjectsRepository(sqlDB)
	providersRepo := repository.NewProvidersRepository(sqlDB)
	credentialsRepo := repository.NewCredentialsRepository(sqlDB)
	paymentsRepo := repository.NewPaymentsRepository(sqlDB)
	outboxRepo := repository.NewOutboxRepository(sqlDB)

	// repos (ClickHouse)
	var attempts repository.CHAttemptsRepository
	var recorder dispatcher.AttemptRecorder
	if chDB != nil {
		attempts = repository.NewCHAttemptsRepository(chDB)
		recorder = attempts
	}

	// services
	registry := apikey.NewRegistry(projectsRepo, cfg.APIKey.MaxAttempts, log.Named("apikey"))

	var cache auth.Cache
	if rds != nil {
		cache = auth.NewRedisCache(rds, "")
	}
	gate := auth.NewGate(registry, cache, cfg.Redis.AuthCacheTTL, log.Named("auth"))

	creds := credential.NewStore(credentialsRepo, sealer)

	projects := project.New(sqlDB, projectsRepo, providersRepo, registry, creds, log.Named("project"),
		project.WithInvalidator(gate),
		project.WithRequiredCredentials(cfg.RequiredCredentials()),
	)

	selector := routing.NewSelector(providersRepo)
	router := dispatcher.NewRouter(selector, dispatcher.NewProviders(cfg.Providers), creds, recorder, log.Named("router"))
	payments := payment.New(sqlDB, paymentsRepo, outboxRepo, router, cfg.Kafka.Topic, log.Named("payment"))

	return &App{
		Projects:    projects,
		Payments:    payments,
		Gate:        gate,
		Selector:    selector,
		Router:      router,
		Credentials: creds,
		Attempts:    attempts,
	}, nil
}
