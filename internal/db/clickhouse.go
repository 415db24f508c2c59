package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the analytics store used for routing attempts.
// e.g. clickhouse://default:@localhost:9000/payagg?dial_timeout=5s&compress=true
func NewClickHouseConnection(cfg config.ClickHouseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}
	db, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}

	poolOpts{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}.apply(db)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if err := ping(db, timeout); err != nil {
		return nil, err
	}
	return db, nil
}
