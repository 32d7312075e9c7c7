package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/remote"
	"pos-sync-terminal/internal/store"
)

func (e *Engine) pull(ctx context.Context) (int, error) {
	e.setDownloading(true)
	defer e.setDownloading(false)

	total := 0
	var errs []error
	for _, table := range e.opts.DownloadTables {
		n, err := e.pullTable(ctx, table)
		total += n
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total, err
			}
			errs = append(errs, fmt.Errorf("pull %s: %w", table, err))
		}
	}
	err := errors.Join(errs...)
	e.recordError(err)
	return total, err
}

// pullTable pages rows changed since the stored cursor and merges them with
// last-writer-wins.
func (e *Engine) pullTable(ctx context.Context, table string) (int, error) {
	ctx, span := e.tracer.Start(ctx, "sync.pull_table")
	defer span.End()
	span.SetAttributes(attribute.String("sync.table", table))

	state, err := e.replica.GetSyncState(ctx, table)
	if err != nil {
		return 0, err
	}
	if state == nil {
		state = &store.SyncState{TableName: table}
	}

	total := 0
	for {
		rows, err := e.remote.Fetch(ctx, table, state.LastRemoteTS, e.opts.PullPageSize)
		e.observeRemote(err)
		if err != nil {
			span.RecordError(err)
			state.Status = "error"
			state.ErrorMessage = err.Error()
			if uerr := e.replica.UpdateSyncState(ctx, state); uerr != nil {
				logger.L().Warn("Failed to update sync state", zap.String("table", table), zap.Error(uerr))
			}
			return total, err
		}
		if len(rows) == 0 {
			break
		}

		applied, err := e.replica.ApplyRemote(ctx, table, rows)
		if err != nil {
			return total, err
		}
		total += applied

		next := maxUpdatedAt(rows)
		advanced := next != nil && (state.LastRemoteTS == nil || next.After(*state.LastRemoteTS))
		if advanced {
			state.LastRemoteTS = next
		}
		state.RowsSynced += int64(applied)
		state.Status = "ok"
		state.ErrorMessage = ""
		if err := e.replica.UpdateSyncState(ctx, state); err != nil {
			return total, err
		}

		if len(rows) < e.opts.PullPageSize || !advanced {
			break
		}
	}

	if total > 0 {
		logger.L().Info("Pulled remote rows", zap.String("table", table), zap.Int("applied", total))
	}
	return total, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func maxUpdatedAt(rows []map[string]any) *time.Time {
	var best *time.Time
	for _, r := range rows {
		t, ok := parseTimestamp(r["updated_at"])
		if !ok {
			continue
		}
		if best == nil || t.After(*best) {
			tt := t
			best = &tt
		}
	}
	return best
}

// applyChange merges one event from the change feed.
func (e *Engine) applyChange(ctx context.Context, ch remote.Change) error {
	e.setDownloading(true)
	defer e.setDownloading(false)

	switch ch.Kind {
	case remote.ChangeDelete:
		_, err := e.replica.ApplyRemoteDelete(ctx, ch.Table, ch.RowID)
		return err
	case remote.ChangeUpsert:
		row := ch.Row
		if _, ok := row["id"]; !ok {
			row = make(map[string]any, len(ch.Row)+1)
			for k, v := range ch.Row {
				row[k] = v
			}
			row["id"] = ch.RowID
		}
		_, err := e.replica.ApplyRemote(ctx, ch.Table, []map[string]any{row})
		return err
	default:
		return fmt.Errorf("unknown change kind %q", ch.Kind)
	}
}
