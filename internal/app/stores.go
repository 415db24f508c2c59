package app

import (
	"errors"
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmehdipour/payment-aggregator/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Stores holds the connections a command opens from config. CH and Redis
// stay nil when their section is disabled.
type Stores struct {
	SQL   *sqlx.DB
	CH    *sqlx.DB
	Redis *redis.Client
}

func OpenStores(cfg config.Config) (*Stores, error) {
	s := &Stores{}

	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", cfg.Database.Driver, err)
	}
	s.SQL = sqlDB

	if cfg.ClickHouse.Enabled {
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("clickhouse connect: %w", err)
		}
		s.CH = chDB
	}

	if cfg.Redis.Enabled {
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		s.Redis = rdb
	}

	return s, nil
}

func (s *Stores) Close() error {
	var errs []error
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.CH != nil {
		errs = append(errs, s.CH.Close())
	}
	if s.SQL != nil {
		errs = append(errs, s.SQL.Close())
	}
	return errors.Join(errs...)
}
