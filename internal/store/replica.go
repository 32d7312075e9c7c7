package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
)

// ApplyRemote merges downloaded rows: last writer wins by updated_at, and a
// row with local mutations still queued is left alone until they upload.
func (s *Store) ApplyRemote(ctx context.Context, table string, rows []map[string]any) (int, error) {
	t, err := replicaTable(table)
	if err != nil {
		return 0, err
	}

	now := database.FormatTime(time.Now())
	applied, skipped := 0, 0
	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			row, err := normalizeRow(t, r)
			if err != nil {
				return err
			}
			pending, err := queue.HasPending(ctx, tx, t.Name, row.ID())
			if err != nil {
				return err
			}
			if pending {
				skipped++
				continue
			}
			if t.HasColumn("updated_at") {
				newer, err := localIsNewer(ctx, tx, t.Name, row)
				if err != nil {
					return err
				}
				if newer {
					skipped++
					continue
				}
			}
			if t.HasColumn("synced") {
				setColumn(row, "synced", int64(1))
			}
			if t.HasColumn("last_synced_at") {
				setColumn(row, "last_synced_at", now)
			}
			if err := row.Upsert(ctx, tx); err != nil {
				return err
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if skipped > 0 {
		logger.L().Debug("Remote rows skipped",
			zap.String("table", table),
			zap.Int("applied", applied),
			zap.Int("skipped", skipped),
		)
	}
	return applied, nil
}

// ApplyRemoteDelete removes a row deleted remotely unless local mutations
// for it are still queued.
func (s *Store) ApplyRemoteDelete(ctx context.Context, table, id string) (bool, error) {
	t, err := replicaTable(table)
	if err != nil {
		return false, err
	}
	deleted := false
	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		pending, err := queue.HasPending(ctx, tx, t.Name, id)
		if err != nil || pending {
			return err
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.Name), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func localIsNewer(ctx context.Context, tx database.Execer, table string, row *database.Row) (bool, error) {
	var local database.NullTime
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT updated_at FROM %s WHERE id = ?`, table), row.ID()).Scan(&local)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !local.Valid {
		return false, nil
	}
	incoming, ok := columnValue(row, "updated_at").(string)
	if !ok {
		return false, nil
	}
	remote, err := database.ParseTime(incoming)
	if err != nil {
		return false, nil
	}
	return local.Time.After(remote), nil
}

func setColumn(row *database.Row, col string, v any) {
	for i, c := range row.Columns {
		if c == col {
			row.Values[i] = v
			return
		}
	}
	row.Columns = append(row.Columns, col)
	row.Values = append(row.Values, v)
}

func columnValue(row *database.Row, col string) any {
	for i, c := range row.Columns {
		if c == col {
			return row.Values[i]
		}
	}
	return nil
}
