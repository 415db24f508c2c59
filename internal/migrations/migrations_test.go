package migrations

import (
	"context"
	"testing"

	"github.com/jmehdipour/payment-aggregator/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements_PerDriver(t *testing.T) {
	for _, driver := range []string{"mysql", "sqlite", "clickhouse"} {
		stmts, err := Statements(driver)
		require.NoError(t, err, driver)
		assert.NotEmpty(t, stmts, driver)
	}

	_, err := Statements("postgres")
	assert.Error(t, err)
}

func TestApply_SQLiteIsRepeatable(t *testing.T) {
	sqlDB, err := db.NewSQLiteConnection("file:migrations_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer sqlDB.Close()

	ctx := context.Background()
	require.NoError(t, Apply(ctx, sqlDB))
	require.NoError(t, Apply(ctx, sqlDB))

	var n int
	require.NoError(t, sqlDB.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('projects', 'provider_configs', 'payments', 'outbox')`))
	assert.Equal(t, 4, n)
}
