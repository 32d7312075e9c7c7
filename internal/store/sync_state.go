package store

import (
	"context"
	"database/sql"
	"time"

	"pos-sync-terminal/internal/database"
)

func (s *Store) GetSyncState(ctx context.Context, tableName string) (*SyncState, error) {
	query := `SELECT table_name, last_remote_ts, rows_synced, status, error_message, updated_at
			  FROM sync_state WHERE table_name = ?`

	row := s.db.DB.QueryRowContext(ctx, query, tableName)

	var state SyncState
	var lastTS, updated database.NullTime
	var errMsg sql.NullString
	err := row.Scan(
		&state.TableName,
		&lastTS,
		&state.RowsSynced,
		&state.Status,
		&errMsg,
		&updated,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.LastRemoteTS = lastTS.Ptr()
	state.ErrorMessage = errMsg.String
	state.UpdatedAt = updated.Time
	return &state, nil
}

func (s *Store) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (table_name, last_remote_ts, rows_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT (table_name) DO UPDATE SET
			  last_remote_ts = excluded.last_remote_ts,
			  rows_synced = excluded.rows_synced,
			  status = excluded.status,
			  error_message = excluded.error_message,
			  updated_at = excluded.updated_at`

	_, err := s.db.DB.ExecContext(ctx, query,
		state.TableName,
		database.Value(state.LastRemoteTS),
		state.RowsSynced,
		state.Status,
		database.Value(state.ErrorMessage),
		database.FormatTime(time.Now()),
	)

	return err
}

func (s *Store) ListSyncStates(ctx context.Context) ([]*SyncState, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT table_name FROM sync_state ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()

	states := make([]*SyncState, 0, len(names))
	for _, n := range names {
		st, err := s.GetSyncState(ctx, n)
		if err != nil {
			return nil, err
		}
		if st != nil {
			states = append(states, st)
		}
	}
	return states, nil
}

func (s *Store) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `INSERT INTO sync_history (id, started_at, uploaded, downloaded, failed, status)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB.ExecContext(ctx, query,
		history.ID,
		database.FormatTime(history.StartedAt),
		history.Uploaded,
		history.Downloaded,
		history.Failed,
		history.Status,
	)

	return err
}

func (s *Store) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	query := `UPDATE sync_history SET completed_at = ?, uploaded = ?, downloaded = ?, failed = ?, status = ?, error_message = ?
			  WHERE id = ?`

	_, err := s.db.DB.ExecContext(ctx, query,
		database.Value(history.CompletedAt),
		history.Uploaded,
		history.Downloaded,
		history.Failed,
		history.Status,
		database.Value(history.ErrorMessage),
		history.ID,
	)

	return err
}

func (s *Store) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, uploaded, downloaded, failed, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var started, completed database.NullTime
		var errMsg sql.NullString
		err := rows.Scan(
			&h.ID,
			&started,
			&completed,
			&h.Uploaded,
			&h.Downloaded,
			&h.Failed,
			&h.Status,
			&errMsg,
		)
		if err != nil {
			return nil, err
		}
		h.StartedAt = started.Time
		h.CompletedAt = completed.Ptr()
		h.ErrorMessage = errMsg.String
		history = append(history, &h)
	}

	return history, rows.Err()
}
