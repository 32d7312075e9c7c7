package store

import (
	"time"
)

type SyncState struct {
	TableName    string     `json:"table_name"`
	LastRemoteTS *time.Time `json:"last_remote_ts,omitempty"`
	RowsSynced   int64      `json:"rows_synced"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type SyncHistory struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Uploaded     int        `json:"uploaded"`
	Downloaded   int        `json:"downloaded"`
	Failed       int        `json:"failed"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
