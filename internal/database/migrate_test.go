package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrate_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	report := db.Migrate(ctx)

	assert.Equal(t, 0, report.DetectedVersion)
	assert.Equal(t, SchemaVersion, report.TargetVersion)
	assert.False(t, report.Degraded(), "failures: %v", report.Failures)
	assert.Contains(t, report.Applied, "create sales")

	ok, err := db.HasColumn(ctx, "products", "stock_quantity")
	require.NoError(t, err)
	assert.True(t, ok)

	again := db.Migrate(ctx)
	assert.Equal(t, SchemaVersion, again.DetectedVersion)
	assert.Empty(t, again.Applied)
}

func TestMigrate_AddsMissingColumnsWithoutLosingData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Version 1 layout of products, before image_ref and stock_quantity.
	_, err := db.DB.ExecContext(ctx, `CREATE TABLE products (
		id TEXT PRIMARY KEY, name TEXT NOT NULL, price TEXT NOT NULL DEFAULT '0',
		category TEXT, active INTEGER NOT NULL DEFAULT 1, updated_at TEXT, last_synced_at TEXT)`)
	require.NoError(t, err)
	_, err = db.DB.ExecContext(ctx, `INSERT INTO products (id, name, price) VALUES ('p-1', 'Pan de bono', '2500')`)
	require.NoError(t, err)

	report := db.Migrate(ctx)

	assert.Equal(t, 1, report.DetectedVersion)
	assert.False(t, report.Degraded(), "failures: %v", report.Failures)
	assert.Contains(t, report.Applied, "add products.image_ref")
	assert.Contains(t, report.Applied, "add products.stock_quantity")

	var name, price string
	var stock sql.NullInt64
	err = db.DB.QueryRowContext(ctx, `SELECT name, price, stock_quantity FROM products WHERE id = 'p-1'`).
		Scan(&name, &price, &stock)
	require.NoError(t, err)
	assert.Equal(t, "Pan de bono", name)
	assert.Equal(t, "2500", price)
	assert.False(t, stock.Valid)
}

func TestDetectVersion(t *testing.T) {
	assert.Equal(t, 0, detectVersion(nil))

	full := map[string]bool{}
	for _, c := range tableIndex["sales"].Columns {
		full[c.Name] = true
	}
	assert.Equal(t, SchemaVersion, detectVersion(map[string]map[string]bool{"sales": full}))

	delete(full, "channel")
	assert.Equal(t, 1, detectVersion(map[string]map[string]bool{"sales": full}))
}

func TestExecTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.Migrate(ctx)

	boom := errors.New("boom")
	err := db.ExecTx(ctx, func(tx *sql.Tx) error {
		row := NewRow("branches").Set("id", "b-1").Set("name", "Centro")
		if err := row.Insert(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`).Scan(&n))
	assert.Zero(t, n)
}
