package store

import (
	"context"
)

// Replica is the part of the local store the sync engine drives.
type Replica interface {
	// Download application
	ApplyRemote(ctx context.Context, table string, rows []map[string]any) (int, error)
	ApplyRemoteDelete(ctx context.Context, table, id string) (bool, error)

	// Sync State
	GetSyncState(ctx context.Context, tableName string) (*SyncState, error)
	UpdateSyncState(ctx context.Context, state *SyncState) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)
}

var _ Replica = (*Store)(nil)
