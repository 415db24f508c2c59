// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmehdipour/payment-aggregator/internal/db"
	"github.com/jmehdipour/payment-aggregator/internal/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// SQLite returns a migrated in-memory database private to the calling test.
func SQLite(t testing.TB) *sqlx.DB {
	t.Helper()

	sqlDB, err := db.NewSQLiteConnection("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrations.Apply(context.Background(), sqlDB))
	return sqlDB
}
