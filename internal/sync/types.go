package sync

import (
	"time"

	"pos-sync-terminal/internal/config"
)

type Connection string

const (
	Disconnected Connection = "disconnected"
	Connecting   Connection = "connecting"
	Connected    Connection = "connected"
)

// Status is a point-in-time view of the engine for the operator badge.
type Status struct {
	Connection  Connection `json:"connection"`
	Uploading   bool       `json:"uploading"`
	Downloading bool       `json:"downloading"`
	Running     bool       `json:"running"`
	Pending     int        `json:"pending"`
	DeadLetters int        `json:"dead_letters"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// Label folds the state into the three words the UI shows.
func (s Status) Label() string {
	switch {
	case s.Connection != Connected:
		return "offline"
	case s.Uploading || s.Downloading:
		return "syncing"
	default:
		return "online"
	}
}

// UploadResult counts the outcome of one upload pass.
type UploadResult struct {
	Uploaded     int `json:"uploaded"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
	DeadLettered int `json:"dead_lettered"`
}

type Options struct {
	UploadInterval time.Duration
	BatchSize      int
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	DownloadTables []string
	PullPageSize   int
}

func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		UploadInterval: cfg.GetUploadInterval(),
		BatchSize:      cfg.BatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.GetBackoffBase(),
		BackoffMax:     cfg.GetBackoffMax(),
		DownloadTables: cfg.DownloadTables,
		PullPageSize:   cfg.PullPageSize,
	}
}

func (o *Options) fill() {
	if o.UploadInterval <= 0 {
		o.UploadInterval = 5 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = 30 * time.Second
	}
	if o.PullPageSize <= 0 {
		o.PullPageSize = 500
	}
}
