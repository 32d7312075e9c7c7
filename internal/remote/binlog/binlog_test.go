package binlog

import (
	"context"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/go-mysql-org/go-mysql/schema"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/remote"
)

func productsTable() *schema.Table {
	return &schema.Table{
		Schema:  "pos",
		Name:    "products",
		Columns: []schema.TableColumn{{Name: "id"}, {Name: "name"}, {Name: "price"}},
	}
}

func TestRowsToChanges_UpdateKeepsAfterImage(t *testing.T) {
	e := &canal.RowsEvent{
		Table:  productsTable(),
		Action: canal.UpdateAction,
		Header: &replication.EventHeader{Timestamp: 1767268800},
		Rows: [][]interface{}{
			{"p-1", []byte("Pan"), decimal.RequireFromString("2500")},
			{"p-1", []byte("Pan de bono"), decimal.RequireFromString("2700")},
		},
	}
	changes := rowsToChanges(e)
	require.Len(t, changes, 1)
	ch := changes[0]
	assert.Equal(t, remote.ChangeUpsert, ch.Kind)
	assert.Equal(t, "p-1", ch.RowID)
	assert.Equal(t, "Pan de bono", ch.Row["name"])
	assert.Equal(t, "2700", ch.Row["price"])
	assert.Equal(t, time.Unix(1767268800, 0).UTC(), ch.CommitTS)
}

func TestRowsToChanges_InsertAndDelete(t *testing.T) {
	ins := rowsToChanges(&canal.RowsEvent{
		Table:  productsTable(),
		Action: canal.InsertAction,
		Rows:   [][]interface{}{{"p-1", "A", "1"}, {"p-2", "B", "2"}, {nil, "no id", "3"}},
	})
	require.Len(t, ins, 2)
	assert.Equal(t, "p-2", ins[1].RowID)

	del := rowsToChanges(&canal.RowsEvent{
		Table:  productsTable(),
		Action: canal.DeleteAction,
		Rows:   [][]interface{}{{"p-9", "Gone", "1"}},
	})
	require.Len(t, del, 1)
	assert.Equal(t, remote.ChangeDelete, del[0].Kind)
	assert.Nil(t, del[0].Row)
	assert.True(t, del[0].CommitTS.IsZero())
}

func TestEventHandler_FiltersTables(t *testing.T) {
	out := make(chan remote.Change, 4)
	h := &eventHandler{ctx: context.Background(), tables: map[string]bool{"clients": true}, out: out}

	require.NoError(t, h.OnRow(&canal.RowsEvent{
		Table: productsTable(), Action: canal.InsertAction, Rows: [][]interface{}{{"p-1", "A", "1"}},
	}))
	assert.Empty(t, out)
}

func TestCanalConfig(t *testing.T) {
	s := New(config.BinlogConfig{Host: "db", Port: 3306, User: "repl", Database: "pos"})
	cfg := s.canalConfig([]string{"products", "clients"})
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, uint32(1001), cfg.ServerID)
	assert.Equal(t, []string{`^pos\.products$`, `^pos\.clients$`}, cfg.IncludeTableRegex)
	assert.Empty(t, cfg.Dump.ExecutionPath)
}
