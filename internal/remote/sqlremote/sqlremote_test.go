package sqlremote

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

var saleOp = queue.Operation{
	Op: queue.OpInsert, Table: "sales", RowID: "s-1",
	Payload: map[string]any{
		"id": "s-1", "total_amount": "5000", "shift_id": "sh-1",
		"created_at": "2026-03-01T12:00:00Z", "synced": json.Number("0"),
	},
}

func TestBuild_MySQL(t *testing.T) {
	st, err := build(mysqlDialect, saleOp)
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO `sales` (`id`, `created_at`, `shift_id`, `total_amount`) VALUES (?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE `created_at` = VALUES(`created_at`), `shift_id` = VALUES(`shift_id`), `total_amount` = VALUES(`total_amount`)",
		st.SQL)
	require.Len(t, st.Args, 4)
	assert.Equal(t, "s-1", st.Args[0])
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), st.Args[1])

	del, err := build(mysqlDialect, queue.Operation{Op: queue.OpDelete, Table: "order_items", RowID: "i-1"})
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `order_items` WHERE `id` = ?", del.SQL)
	assert.Equal(t, []any{"i-1"}, del.Args)
}

func TestBuild_Postgres(t *testing.T) {
	op := queue.Operation{Op: queue.OpUpdate, Table: "orders", RowID: "o-1",
		Payload: map[string]any{"id": "o-1", "status": "completed"}}
	st, err := build(postgresDialect, op)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "orders" ("id", "status") VALUES ($1, $2) ON CONFLICT ("id") DO UPDATE SET "status" = EXCLUDED."status"`,
		st.SQL)

	st, err = build(postgresDialect, queue.Operation{Op: queue.OpInsert, Table: "tags", RowID: "t-1"})
	require.NoError(t, err)
	assert.Contains(t, st.SQL, "DO NOTHING")

	_, err = build(postgresDialect, queue.Operation{Op: queue.OpInsert, Table: `x"; drop`, RowID: "1"})
	assert.ErrorIs(t, err, remote.ErrInvalidIdentifier)
}

func TestArgValue(t *testing.T) {
	assert.Equal(t, int64(3), argValue("quantity", json.Number("3")))
	assert.Equal(t, "2500.50", argValue("price", json.Number("2500.50")))
	assert.Equal(t, "not a time", argValue("closed_at", "not a time"))
	assert.Equal(t, "2026-03-01", argValue("business_day", "2026-03-01"))
	assert.Equal(t, `{"kind":"simple"}`, argValue("closing_metadata", map[string]any{"kind": "simple"}))
	assert.Nil(t, argValue("notes", nil))
}

type valuer string

func (v valuer) Value() (driver.Value, error) { return string(v), nil }

func TestRowValue(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 3, 1, 7, 0, 0, 0, time.FixedZone("COT", -5*3600))

	assert.Equal(t, "abc", rowValue([]byte("abc")))
	assert.Equal(t, id.String(), rowValue([16]byte(id)))
	assert.Equal(t, "2026-03-01T12:00:00Z", rowValue(ts))
	assert.Equal(t, "12.50", rowValue(valuer("12.50")))
	assert.Equal(t, int64(7), rowValue(int64(7)))
	assert.Nil(t, rowValue(nil))
}

func TestClassifyMySQL(t *testing.T) {
	op := queue.Operation{Table: "sales", RowID: "s-1"}
	assert.True(t, remote.IsTransient(classifyMySQL(&mysql.MySQLError{Number: 1213}, op)))
	assert.True(t, remote.IsTransient(classifyMySQL(&mysql.MySQLError{Number: 1205}, op)))
	assert.True(t, remote.IsConflict(classifyMySQL(&mysql.MySQLError{Number: 1062}, op)))
	assert.True(t, remote.IsTransient(classifyMySQL(driver.ErrBadConn, op)))
	assert.True(t, remote.IsTransient(classifyMySQL(mysql.ErrInvalidConn, op)))

	permanent := classifyMySQL(&mysql.MySQLError{Number: 1054, Message: "Unknown column"}, op)
	assert.False(t, remote.IsTransient(permanent))
	assert.False(t, remote.IsConflict(permanent))
	assert.Nil(t, classifyMySQL(nil, op))
}

func TestClassifyPostgres(t *testing.T) {
	op := queue.Operation{Table: "sales", RowID: "s-1"}
	for _, code := range []string{"08006", "40001", "40P01", "57P01"} {
		assert.True(t, remote.IsTransient(classifyPostgres(&pgconn.PgError{Code: code}, op)), code)
	}
	assert.True(t, remote.IsConflict(classifyPostgres(&pgconn.PgError{Code: "23505"}, op)))
	assert.False(t, remote.IsTransient(classifyPostgres(&pgconn.PgError{Code: "42703"}, op)))
	assert.True(t, remote.IsTransient(classifyPostgres(context.DeadlineExceeded, op)))
	assert.False(t, remote.IsTransient(classifyPostgres(errors.New("bad input"), op)))
}
