package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const mysqlDuplicateEntry = 1062

// isUniqueViolation reports whether err came from a UNIQUE constraint on
// either supported driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// lockClause returns the row-lock suffix for driver. SQLite has no row locks;
// its pool is a single connection so transactions already serialize.
func lockClause(driver string) string {
	if driver == "mysql" {
		return " FOR UPDATE"
	}
	return ""
}

type execQuerier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// runner picks tx when present, otherwise the pool.
func runner(db *sqlx.DB, tx *sqlx.Tx) execQuerier {
	if tx != nil {
		return tx
	}
	return db
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}
