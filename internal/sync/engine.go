// Package sync reconciles the local store with the remote backend: it drains
// the mutation queue upstream, pulls reference data down and follows the
// remote change feed.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
	"pos-sync-terminal/internal/store"
)

var ErrAlreadyRunning = errors.New("sync is already running")

type Engine struct {
	opts    Options
	queue   *queue.Queue
	replica store.Replica
	remote  remote.Store
	stream  remote.ChangeStream
	tracer  trace.Tracer

	// passMu serialises upload and pull passes.
	passMu sync.Mutex

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
}

// NewEngine wires the engine. stream may be nil when the backend has no
// change feed; downloads then rely on periodic pulls only.
func NewEngine(q *queue.Queue, replica store.Replica, rs remote.Store, stream remote.ChangeStream, opts Options) *Engine {
	opts.fill()
	return &Engine{
		opts:    opts,
		queue:   q,
		replica: replica,
		remote:  rs,
		stream:  stream,
		tracer:  otel.Tracer("pos-sync-terminal/sync"),
		status:  Status{Connection: Disconnected},
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the upload loop and, when configured, the change feed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Running {
		return ErrAlreadyRunning
	}

	logger.L().Info("Starting sync engine",
		zap.Duration("upload_interval", e.opts.UploadInterval),
		zap.Strings("download_tables", e.opts.DownloadTables),
	)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.status.Running = true

	e.wg.Add(1)
	go e.uploadLoop(runCtx)

	if e.stream != nil {
		e.wg.Add(1)
		go e.subscribeLoop(runCtx)
	}

	e.requestSync()
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.status.Running {
		e.mu.Unlock()
		return
	}
	logger.L().Info("Stopping sync engine")
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	e.status.Running = false
	e.status.Connection = Disconnected
	e.status.Uploading = false
	e.status.Downloading = false
	e.mu.Unlock()
	logger.L().Info("Stopped sync engine")
}

// Trigger asks the running loop for a full sync as soon as possible. It
// reports false when the engine is not running.
func (e *Engine) Trigger() bool {
	e.mu.Lock()
	running := e.status.Running
	e.mu.Unlock()
	if !running {
		return false
	}
	e.requestSync()
	return true
}

func (e *Engine) requestSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Status returns a snapshot. Queue counts are read fresh; if that fails the
// previous counts are reported.
func (e *Engine) Status(ctx context.Context) Status {
	pending, perr := e.queue.Count(ctx)
	dead, derr := e.queue.DeadLetterCount(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if perr == nil {
		e.status.Pending = pending
	}
	if derr == nil {
		e.status.DeadLetters = dead
	}
	return e.status
}

// SyncOnce runs one upload pass followed by a pull and records the run in
// the sync history.
func (e *Engine) SyncOnce(ctx context.Context) (*store.SyncHistory, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "sync.once")
	defer span.End()

	h := &store.SyncHistory{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Status:    "running",
	}
	if err := e.replica.CreateSyncHistory(ctx, h); err != nil {
		logger.L().Warn("Failed to record sync start", zap.Error(err))
	}

	up, upErr := e.upload(ctx)
	down, pullErr := e.pull(ctx)

	done := time.Now().UTC()
	h.CompletedAt = &done
	h.Uploaded = up.Uploaded
	h.Downloaded = down
	h.Failed = up.Failed
	h.Status = "completed"

	err := errors.Join(upErr, pullErr)
	if err != nil {
		h.Status = "failed"
		h.ErrorMessage = err.Error()
		span.RecordError(err)
	} else if up.Failed > 0 {
		h.Status = "partial"
	}
	if herr := e.replica.UpdateSyncHistory(ctx, h); herr != nil {
		logger.L().Warn("Failed to record sync result", zap.Error(herr))
	}

	logger.L().Info("Sync pass finished",
		zap.String("status", h.Status),
		zap.Int("uploaded", h.Uploaded),
		zap.Int("downloaded", h.Downloaded),
		zap.Int("failed", h.Failed),
	)
	return h, err
}

// Upload runs one upload pass.
func (e *Engine) Upload(ctx context.Context) (UploadResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.upload(ctx)
}

// Pull runs one download pass over every configured table.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()
	return e.pull(ctx)
}

func (e *Engine) setUploading(v bool) {
	e.mu.Lock()
	e.status.Uploading = v
	e.mu.Unlock()
}

func (e *Engine) setDownloading(v bool) {
	e.mu.Lock()
	e.status.Downloading = v
	e.mu.Unlock()
}

func (e *Engine) setConnection(c Connection) {
	e.mu.Lock()
	e.status.Connection = c
	e.mu.Unlock()
}

// observeRemote updates the connection state from request outcomes when no
// change feed owns it.
func (e *Engine) observeRemote(err error) {
	if e.stream != nil {
		return
	}
	switch {
	case err == nil, remote.IsConflict(err):
		e.setConnection(Connected)
	case remote.IsTransient(err):
		e.setConnection(Disconnected)
	}
}

func (e *Engine) recordError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	now := time.Now().UTC()
	e.mu.Lock()
	e.status.LastError = err.Error()
	e.status.LastErrorAt = &now
	e.mu.Unlock()
}

func (e *Engine) recordSuccess() {
	now := time.Now().UTC()
	e.mu.Lock()
	e.status.LastSuccess = &now
	e.mu.Unlock()
}

func txLabel(tx queue.Transaction) string {
	return fmt.Sprintf("tx %d (%d ops)", tx.ID, len(tx.Operations))
}
