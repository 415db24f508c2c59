package db

import (
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/config"
	"github.com/jmoiron/sqlx"
)

// Open connects to the primary store selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "mysql":
		return NewMySQLConnection(cfg)
	case "sqlite":
		return NewSQLiteConnection(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
