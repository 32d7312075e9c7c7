package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrUnknownTable    = errors.New("unknown table")
	ErrMissingID       = errors.New("row has no id")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrEmptySale       = errors.New("a sale needs at least one item")
	ErrInvalidInput    = errors.New("invalid input")
	ErrProductInactive = errors.New("product is not active")
)

// Store persists the terminal's entities in the local database.
type Store struct {
	db *database.Database
}

func New(db *database.Database) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *database.Database {
	return s.db
}

// UpsertMany inserts or replaces rows keyed by id. The batch commits as a
// whole or not at all; columns the table does not define are dropped.
func (s *Store) UpsertMany(ctx context.Context, table string, rows []map[string]any) (int, error) {
	t, err := replicaTable(table)
	if err != nil {
		return 0, err
	}
	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			row, err := normalizeRow(t, r)
			if err != nil {
				return err
			}
			if err := row.Upsert(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// UpsertProducts refreshes catalog rows and stamps last_synced_at.
func (s *Store) UpsertProducts(ctx context.Context, products []model.Product) (int, error) {
	now := time.Now().UTC()
	rows := make([]map[string]any, 0, len(products))
	for _, p := range products {
		updated := p.UpdatedAt
		if updated.IsZero() {
			updated = now
		}
		rows = append(rows, map[string]any{
			"id":             p.ID,
			"name":           p.Name,
			"price":          p.Price.String(),
			"category":       p.Category,
			"active":         p.Active,
			"image_ref":      p.ImageRef,
			"stock_quantity": database.Value(p.Stock),
			"updated_at":     database.FormatTime(updated),
			"last_synced_at": database.FormatTime(now),
		})
	}
	n, err := s.UpsertMany(ctx, "products", rows)
	if err != nil {
		return 0, err
	}
	logger.L().Debug("Catalog refreshed", zap.Int("products", n))
	return n, nil
}

// replicaTable resolves tables that hold entity rows. Queue bookkeeping
// tables are never written through the generic path.
func replicaTable(name string) (*database.Table, error) {
	if strings.HasPrefix(name, "sync_") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	t, ok := database.LookupTable(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// normalizeRow keeps known columns in registry order with "id" first and
// coerces JSON-decoded values into their storage form.
func normalizeRow(t *database.Table, in map[string]any) (*database.Row, error) {
	id, ok := in["id"]
	if !ok || id == nil || fmt.Sprint(id) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingID, t.Name)
	}
	row := database.NewRow(t.Name).Set("id", fmt.Sprint(id))
	for _, c := range t.Columns {
		if c.Name == "id" {
			continue
		}
		v, present := in[c.Name]
		if !present {
			continue
		}
		cv, err := coerce(c, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		row.Columns = append(row.Columns, c.Name)
		row.Values = append(row.Values, cv)
	}
	return row, nil
}

func coerce(c database.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if c.Type == "INTEGER" {
		switch t := v.(type) {
		case bool:
			return database.Value(t), nil
		case int:
			return int64(t), nil
		case int64:
			return t, nil
		case float64:
			if t != math.Trunc(t) {
				return nil, fmt.Errorf("%v is not an integer", t)
			}
			return int64(t), nil
		case json.Number:
			return t.Int64()
		case string:
			if t == "" {
				return nil, nil
			}
			switch t {
			case "true":
				return int64(1), nil
			case "false":
				return int64(0), nil
			}
			return strconv.ParseInt(t, 10, 64)
		default:
			return nil, fmt.Errorf("unsupported value %T", v)
		}
	}

	switch t := v.(type) {
	case string:
		if strings.HasSuffix(c.Name, "_at") && t != "" {
			ts, err := database.ParseTime(t)
			if err != nil {
				return nil, err
			}
			return database.FormatTime(ts), nil
		}
		return database.Value(t), nil
	case float64:
		return decimal.NewFromFloat(t).String(), nil
	case json.Number:
		return t.String(), nil
	case int, int64:
		return fmt.Sprint(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return database.Value(v), nil
	}
}
