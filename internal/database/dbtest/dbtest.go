// Package dbtest opens migrated throwaway databases for package tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/database"
)

func Open(t testing.TB) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "pos-local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	report := db.Migrate(context.Background())
	require.False(t, report.Degraded(), "migration failures: %v", report.Failures)
	return db
}

// Exec runs raw fixture statements.
func Exec(t testing.TB, db *database.Database, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.DB.ExecContext(context.Background(), s)
		require.NoError(t, err, s)
	}
}

func Count(t testing.TB, db *database.Database, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.DB.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}
