package sync

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/remote"
)

// upload drains the queue in FIFO order. A transaction that fails blocks
// every later transaction touching one of its rows for the rest of the pass,
// so a row's mutations never reach the backend out of order. A transient
// failure that outlives its retries ends the pass: the backend is treated as
// unreachable.
func (e *Engine) upload(ctx context.Context) (UploadResult, error) {
	var res UploadResult
	e.setUploading(true)
	defer e.setUploading(false)

	blocked := make(map[string]bool)
	var after int64
	for {
		txs, err := e.queue.Pending(ctx, after, e.opts.BatchSize)
		if err != nil {
			return res, err
		}
		if len(txs) == 0 {
			break
		}
		for _, tx := range txs {
			after = tx.ID
			if err := ctx.Err(); err != nil {
				return res, err
			}
			keys := tx.Keys()
			if isBlocked(blocked, keys) {
				res.Skipped++
				continue
			}

			err := e.send(ctx, tx)
			e.observeRemote(err)
			if err == nil {
				if err := e.queue.Ack(ctx, tx.ID); err != nil {
					return res, err
				}
				res.Uploaded++
				continue
			}
			if errors.Is(err, context.Canceled) {
				return res, err
			}

			res.Failed++
			e.recordError(err)
			transient := remote.IsTransient(err)
			moved, rerr := e.queue.RecordFailure(ctx, tx.ID, err, !transient)
			if rerr != nil {
				return res, rerr
			}
			if moved {
				res.DeadLettered++
				continue
			}
			for _, k := range keys {
				blocked[k] = true
			}
			if transient {
				logger.L().Warn("Remote unreachable, ending upload pass",
					zap.Int64("tx_id", tx.ID), zap.Error(err))
				return res, err
			}
			logger.L().Warn("Queued transaction rejected",
				zap.Int64("tx_id", tx.ID),
				zap.Strings("rows", keys),
				zap.Error(err),
			)
		}
	}

	if res.Failed == 0 {
		e.recordSuccess()
	}
	return res, nil
}

func isBlocked(blocked map[string]bool, keys []string) bool {
	for _, k := range keys {
		if blocked[k] {
			return true
		}
	}
	return false
}

// send applies one queued transaction, retrying transient failures with
// exponential backoff. A conflict means the backend already holds the row
// and counts as applied.
func (e *Engine) send(ctx context.Context, tx queue.Transaction) error {
	ctx, span := e.tracer.Start(ctx, "sync.upload_tx")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("sync.tx_id", tx.ID),
		attribute.Int("sync.operations", len(tx.Operations)),
	)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.opts.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         e.opts.BackoffMax,
	}
	b.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.remote.Apply(ctx, tx.Operations)
		switch {
		case err == nil, remote.IsConflict(err):
			return struct{}{}, nil
		case remote.IsTransient(err):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.opts.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.L().Debug("Retrying upload",
				zap.String("tx", txLabel(tx)),
				zap.Duration("in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
