package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmoiron/sqlx"
)

// mysqlDSN forces the driver options the repositories rely on: DATETIME(6)
// columns scan into time.Time in UTC.
func mysqlDSN(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("empty MySQL DSN")
	}
	c, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("parse MySQL DSN: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// NewMySQLConnection opens the primary store pool and pings it.
func NewMySQLConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := mysqlDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", dsn)
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
		timeout = 5 * time.Second
	}
	if err := ping(db, timeout); err != nil {
		return nil, err
	}
	return db, nil
}
