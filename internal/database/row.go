package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row is one table row as an ordered column/value list. The first column is
// always the primary key "id". Values are already in storage form (see Value).
type Row struct {
	Table   string
	Columns []string
	Values  []any
}

func NewRow(table string) *Row {
	return &Row{Table: table}
}

// Set appends a column, converting the value to its storage form.
func (r *Row) Set(column string, value any) *Row {
	r.Columns = append(r.Columns, column)
	r.Values = append(r.Values, Value(value))
	return r
}

func (r Row) ID() string {
	for i, c := range r.Columns {
		if c == "id" {
			s, _ := r.Values[i].(string)
			return s
		}
	}
	return ""
}

// Payload is the full-row snapshot shipped with a queued mutation.
func (r Row) Payload() map[string]any {
	m := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// Fit returns a copy without the columns the live table lacks, so writes
// still land on a degraded schema. The receiver keeps every column for the
// upload payload.
func (r Row) Fit(ctx context.Context, q Execer) (Row, error) {
	cols, err := TableColumns(ctx, q, r.Table)
	if err != nil {
		return r, fmt.Errorf("columns of %s: %w", r.Table, err)
	}
	fitted := Row{Table: r.Table}
	for i, c := range r.Columns {
		if cols[c] {
			fitted.Columns = append(fitted.Columns, c)
			fitted.Values = append(fitted.Values, r.Values[i])
		}
	}
	return fitted, nil
}

func (r Row) Insert(ctx context.Context, q Execer) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.Table, strings.Join(r.Columns, ", "), placeholders(len(r.Columns)))
	if _, err := q.ExecContext(ctx, query, r.Values...); err != nil {
		return fmt.Errorf("insert %s %s: %w", r.Table, r.ID(), err)
	}
	return nil
}

// Upsert inserts the row or overwrites every listed column of the existing one.
func (r Row) Upsert(ctx context.Context, q Execer) error {
	sets := make([]string, 0, len(r.Columns))
	for _, c := range r.Columns {
		if c == "id" {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.Table, strings.Join(r.Columns, ", "), placeholders(len(r.Columns)))
	if len(sets) == 0 {
		query += " ON CONFLICT(id) DO NOTHING"
	} else {
		query += " ON CONFLICT(id) DO UPDATE SET " + strings.Join(sets, ", ")
	}
	if _, err := q.ExecContext(ctx, query, r.Values...); err != nil {
		return fmt.Errorf("upsert %s %s: %w", r.Table, r.ID(), err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Value converts a Go value into the form stored in SQLite and shipped in
// mutation payloads: decimals and timestamps become text, empty strings and
// nil pointers become NULL.
func Value(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return t
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return FormatTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return Value(*t)
	case decimal.Decimal:
		return t.String()
	case *decimal.Decimal:
		if t == nil {
			return nil
		}
		return t.String()
	case *int:
		if t == nil {
			return nil
		}
		return int64(*t)
	case int:
		return int64(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	case driver.Valuer:
		val, err := t.Value()
		if err != nil {
			return nil
		}
		return val
	default:
		return v
	}
}

const timeLayout = time.RFC3339Nano

func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// NullTime scans timestamps stored as text (or returned as time.Time by the
// driver) and tolerates NULL.
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (n *NullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return err
		}
		n.Time, n.Valid = t, true
		return nil
	case []byte:
		return n.Scan(string(v))
	case int64:
		n.Time, n.Valid = time.UnixMilli(v).UTC(), true
		return nil
	default:
		return fmt.Errorf("cannot scan %T into NullTime", src)
	}
}

func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
