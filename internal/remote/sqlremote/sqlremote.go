// Package sqlremote applies queued transactions directly to a central MySQL
// or Postgres database, for deployments without an HTTP backend.
package sqlremote

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

// statement is one parameterised SQL command derived from an operation.
type statement struct {
	SQL  string
	Args []any
}

// dialect renders the per-engine parts of an upsert.
type dialect struct {
	quote       func(string) string
	placeholder func(i int) string
	upsert      func(table string, cols []string) string
}

func build(d dialect, op queue.Operation) (statement, error) {
	if err := remote.CheckOperation(op); err != nil {
		return statement{}, err
	}
	table := d.quote(op.Table)
	if op.Op == queue.OpDelete {
		return statement{
			SQL:  fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, d.quote("id"), d.placeholder(1)),
			Args: []any{op.RowID},
		}, nil
	}
	if op.Op != queue.OpInsert && op.Op != queue.OpUpdate {
		return statement{}, fmt.Errorf("unknown operation %q", op.Op)
	}

	payload := remote.RemotePayload(op)
	cols := sortedColumns(payload)
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = d.quote(c)
		marks[i] = d.placeholder(i + 1)
		args[i] = argValue(c, payload[c])
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		table, strings.Join(quoted, ", "), strings.Join(marks, ", "), d.upsert(table, cols))
	return statement{SQL: strings.TrimSpace(sql), Args: args}, nil
}

// sortedColumns returns the payload keys with id first, the rest sorted.
func sortedColumns(payload map[string]any) []string {
	cols := make([]string, 0, len(payload))
	for k := range payload {
		if k != "id" {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return append([]string{"id"}, cols...)
}

// argValue converts a decoded JSON payload value into a driver argument.
func argValue(col string, v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		return x.String()
	case string:
		if strings.HasSuffix(col, "_at") && x != "" {
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				return t.UTC()
			}
		}
		return x
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return v
	}
}

// rowValue normalises a scanned column into what the local store accepts.
func rowValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil
		}
		return rowValue(dv)
	default:
		return v
	}
}
