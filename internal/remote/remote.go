// Package remote defines the central backend the terminal reconciles with and
// the error taxonomy the sync engine retries on.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"pos-sync-terminal/internal/queue"
)

// Store is the authoritative backend. Apply receives the operations of one
// queued transaction; replaying a partially applied transaction must be safe.
type Store interface {
	Apply(ctx context.Context, ops []queue.Operation) error
	Fetch(ctx context.Context, table string, since *time.Time, limit int) ([]map[string]any, error)
}

type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// Change is one row-level event pushed by the backend.
type Change struct {
	Kind     ChangeKind
	Table    string
	RowID    string
	Row      map[string]any
	CommitTS time.Time
}

// ChangeStream pushes remote changes until ctx is cancelled or the connection
// drops, at which point the channel is closed.
type ChangeStream interface {
	Subscribe(ctx context.Context, tables []string) (<-chan Change, error)
}

// TransientError marks a failure worth retrying: network trouble, overload or
// a lost database connection.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports that the row already exists remotely in a state that
// supersedes ours. Callers treat it as applied.
type ConflictError struct {
	Table string
	RowID string
	Err   error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s: %v", e.Table, e.RowID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried. Context cancellation is
// never transient; raw network errors always are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// StatusError is a non-2xx HTTP answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// ClassifyStatus wraps a non-2xx response into the matching taxonomy.
func ClassifyStatus(op queue.Operation, code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	se := &StatusError{Code: code, Body: body}
	switch {
	case code == http.StatusConflict:
		return &ConflictError{Table: op.Table, RowID: op.RowID, Err: se}
	// 401 waits for the out-of-band token refresh instead of counting
	// towards the dead-letter threshold.
	case code >= 500, code == http.StatusTooManyRequests, code == http.StatusRequestTimeout,
		code == http.StatusUnauthorized:
		return &TransientError{Err: se}
	default:
		return se
	}
}

// localOnly are bookkeeping columns that never leave the terminal.
var localOnly = []string{"synced", "last_synced_at"}

// RemotePayload returns a copy of the operation payload without local
// bookkeeping columns.
func RemotePayload(op queue.Operation) map[string]any {
	out := make(map[string]any, len(op.Payload))
	for k, v := range op.Payload {
		out[k] = v
	}
	for _, k := range localOnly {
		delete(out, k)
	}
	if _, ok := out["id"]; !ok && op.RowID != "" {
		out["id"] = op.RowID
	}
	return out
}

var ErrNotConfigured = errors.New("remote backend not configured")

// Offline is the Store used when no backend is configured. Every call fails
// transiently so queued work stays pending until one is.
type Offline struct{}

func (Offline) Apply(context.Context, []queue.Operation) error {
	return Transient(ErrNotConfigured)
}

func (Offline) Fetch(context.Context, string, *time.Time, int) ([]map[string]any, error) {
	return nil, Transient(ErrNotConfigured)
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier guards table and column names that end up in URLs or SQL.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

var ErrInvalidIdentifier = errors.New("invalid identifier")

// CheckOperation validates the names an operation carries.
func CheckOperation(op queue.Operation) error {
	if !ValidIdentifier(op.Table) {
		return fmt.Errorf("%w: table %q", ErrInvalidIdentifier, op.Table)
	}
	for k := range op.Payload {
		if !ValidIdentifier(k) {
			return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, k)
		}
	}
	if op.RowID == "" {
		return fmt.Errorf("%s: missing row id", op.Table)
	}
	return nil
}
