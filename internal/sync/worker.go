package sync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
)

// uploadLoop drains the queue on every tick and runs a full sync when
// triggered.
func (e *Engine) uploadLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.UploadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.trigger:
			if _, err := e.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				logger.L().Warn("Sync pass failed", zap.Error(err))
			}

		case <-ticker.C:
			res, err := e.Upload(ctx)
			if err != nil && ctx.Err() == nil {
				logger.L().Debug("Upload pass stopped", zap.Error(err))
			}
			if res.Uploaded > 0 || res.Failed > 0 {
				logger.L().Info("Upload pass",
					zap.Int("uploaded", res.Uploaded),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
					zap.Int("dead_lettered", res.DeadLettered),
				)
			}
		}
	}
}

// subscribeLoop keeps the change feed connected, backing off between
// reconnects, and applies every event through the replica.
func (e *Engine) subscribeLoop(ctx context.Context) {
	defer e.wg.Done()

	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.opts.BackoffBase,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         e.opts.BackoffMax,
	}
	b.Reset()

	for ctx.Err() == nil {
		e.setConnection(Connecting)
		changes, err := e.stream.Subscribe(ctx, e.opts.DownloadTables)
		if err != nil {
			e.setConnection(Disconnected)
			e.recordError(err)
			logger.L().Warn("Change feed unavailable", zap.Error(err))
			if !sleep(ctx, b.NextBackOff()) {
				return
			}
			continue
		}

		e.setConnection(Connected)
		b.Reset()
		// A reconnect may have missed events; catch up with a full pull.
		e.requestSync()

		for ch := range changes {
			if err := e.applyChange(ctx, ch); err != nil {
				logger.L().Warn("Failed to apply remote change",
					zap.String("table", ch.Table),
					zap.String("row_id", ch.RowID),
					zap.Error(err),
				)
			}
		}

		e.setConnection(Disconnected)
		if !sleep(ctx, b.NextBackOff()) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
