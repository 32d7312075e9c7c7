package queue

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/logger"
)

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

var ErrTransactionNotFound = errors.New("queued transaction not found")

// Operation is one row-level mutation. Payload is the full row snapshot at
// mutation time (nil for deletes).
type Operation struct {
	Op      OpKind         `json:"op"`
	Table   string         `json:"table"`
	RowID   string         `json:"row_id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Key identifies the row lineage an operation belongs to.
func (o Operation) Key() string {
	return o.Table + "/" + o.RowID
}

func Insert(row *database.Row) Operation {
	return Operation{Op: OpInsert, Table: row.Table, RowID: row.ID(), Payload: row.Payload()}
}

func Update(row *database.Row) Operation {
	return Operation{Op: OpUpdate, Table: row.Table, RowID: row.ID(), Payload: row.Payload()}
}

func Delete(table, id string) Operation {
	return Operation{Op: OpDelete, Table: table, RowID: id}
}

// Transaction is a group of operations that must be applied remotely together.
type Transaction struct {
	ID                int64
	CreatedAt         time.Time
	Attempts          int
	PermanentFailures int
	LastError         string
	Operations        []Operation
}

// Keys returns the distinct row lineages touched by the transaction.
func (t Transaction) Keys() []string {
	seen := make(map[string]bool, len(t.Operations))
	keys := make([]string, 0, len(t.Operations))
	for _, op := range t.Operations {
		k := op.Key()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

type DeadLetter struct {
	ID         int64       `json:"id"`
	TxID       int64       `json:"tx_id"`
	Operations []Operation `json:"operations"`
	Reason     string      `json:"reason"`
	Attempts   int         `json:"attempts"`
	FailedAt   time.Time   `json:"failed_at"`
}

// Enqueue records ops as one queued transaction. It must run on the same
// *sql.Tx as the local write it describes.
func Enqueue(ctx context.Context, tx database.Execer, ops ...Operation) (int64, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sync_transactions (created_at, attempts, permanent_failures) VALUES (?, 0, 0)`,
		database.FormatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("enqueue transaction: %w", err)
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, op := range ops {
		var payload any
		if op.Payload != nil {
			b, err := json.Marshal(op.Payload)
			if err != nil {
				return 0, fmt.Errorf("encode payload %s: %w", op.Key(), err)
			}
			payload = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_operations (tx_id, op, table_name, row_id, payload) VALUES (?, ?, ?, ?, ?)`,
			txID, string(op.Op), op.Table, op.RowID, payload); err != nil {
			return 0, fmt.Errorf("enqueue %s %s: %w", op.Op, op.Key(), err)
		}
	}
	return txID, nil
}

// HasPending reports whether any queued operation still targets the row.
func HasPending(ctx context.Context, q database.Execer, table, rowID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_operations WHERE table_name = ? AND row_id = ?`, table, rowID).Scan(&n)
	return n > 0, err
}

// Queue is the durable FIFO of local mutations awaiting remote acknowledgement.
type Queue struct {
	db              *database.Database
	deadLetterAfter int
}

func New(db *database.Database, deadLetterAfter int) *Queue {
	if deadLetterAfter <= 0 {
		deadLetterAfter = 10
	}
	return &Queue{db: db, deadLetterAfter: deadLetterAfter}
}

// Pending returns up to limit queued transactions with an id above afterID,
// in FIFO order.
func (q *Queue) Pending(ctx context.Context, afterID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.DB.QueryContext(ctx, `
		SELECT id, created_at, attempts, permanent_failures, COALESCE(last_error, '')
		FROM sync_transactions WHERE id > ? ORDER BY id ASC LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var created database.NullTime
		if err := rows.Scan(&t.ID, &created, &t.Attempts, &t.PermanentFailures, &t.LastError); err != nil {
			rows.Close()
			return nil, err
		}
		t.CreatedAt = created.Time
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range txs {
		ops, err := loadOperations(ctx, q.db.DB, txs[i].ID)
		if err != nil {
			return nil, err
		}
		txs[i].Operations = ops
	}
	return txs, nil
}

func loadOperations(ctx context.Context, q database.Execer, txID int64) ([]Operation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT op, table_name, row_id, payload FROM sync_operations WHERE tx_id = ? ORDER BY id ASC`, txID)
	if err != nil {
		return nil, fmt.Errorf("load operations for %d: %w", txID, err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var kind string
		var payload sql.NullString
		if err := rows.Scan(&kind, &op.Table, &op.RowID, &payload); err != nil {
			return nil, err
		}
		op.Op = OpKind(kind)
		if payload.Valid && payload.String != "" {
			dec := json.NewDecoder(bytes.NewReader([]byte(payload.String)))
			dec.UseNumber()
			if err := dec.Decode(&op.Payload); err != nil {
				return nil, fmt.Errorf("decode payload %s: %w", op.Key(), err)
			}
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Ack removes an applied transaction and flags its rows synced when no later
// mutation for the same row is still queued.
func (q *Queue) Ack(ctx context.Context, txID int64) error {
	return q.db.ExecTx(ctx, func(tx *sql.Tx) error {
		ops, err := loadOperations(ctx, tx, txID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sync_transactions WHERE id = ?`, txID)
		if err != nil {
			return fmt.Errorf("ack %d: %w", txID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTransactionNotFound
		}
		// Cascade is not relied on: foreign keys may be off on a degraded file.
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_operations WHERE tx_id = ?`, txID); err != nil {
			return err
		}
		for _, op := range ops {
			if op.Op == OpDelete {
				continue
			}
			t, ok := database.LookupTable(op.Table)
			if !ok || !t.HasColumn("synced") {
				continue
			}
			stmt := fmt.Sprintf(`UPDATE %s SET synced = 1 WHERE id = ? AND NOT EXISTS (
				SELECT 1 FROM sync_operations WHERE table_name = ? AND row_id = ?)`, op.Table)
			if _, err := tx.ExecContext(ctx, stmt, op.RowID, op.Table, op.RowID); err != nil {
				return fmt.Errorf("mark %s synced: %w", op.Key(), err)
			}
		}
		return nil
	})
}

// RecordFailure stores the outcome of a failed attempt. Permanent failures
// count towards the dead-letter threshold; the returned flag reports whether
// the transaction was moved out of the queue.
func (q *Queue) RecordFailure(ctx context.Context, txID int64, cause error, permanent bool) (bool, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	inc := 0
	if permanent {
		inc = 1
	}
	var failures, attempts int
	err := q.db.ExecTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_transactions
			SET attempts = attempts + 1, permanent_failures = permanent_failures + ?,
			    last_error = ?, last_attempt_at = ?
			WHERE id = ?`, inc, msg, database.FormatTime(time.Now()), txID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTransactionNotFound
		}
		return tx.QueryRowContext(ctx,
			`SELECT permanent_failures, attempts FROM sync_transactions WHERE id = ?`, txID).Scan(&failures, &attempts)
	})
	if err != nil {
		return false, fmt.Errorf("record failure for %d: %w", txID, err)
	}
	if failures < q.deadLetterAfter {
		return false, nil
	}
	if err := q.DeadLetter(ctx, txID, msg); err != nil {
		return false, err
	}
	return true, nil
}

// DeadLetter moves a transaction out of the upload queue so it stops being
// retried. Its operations are kept verbatim for manual replay.
func (q *Queue) DeadLetter(ctx context.Context, txID int64, reason string) error {
	err := q.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		if err := tx.QueryRowContext(ctx,
			`SELECT attempts FROM sync_transactions WHERE id = ?`, txID).Scan(&attempts); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTransactionNotFound
			}
			return err
		}
		ops, err := loadOperations(ctx, tx, txID)
		if err != nil {
			return err
		}
		blob, err := json.Marshal(ops)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sync_dead_letter (tx_id, operations, reason, attempts, failed_at)
			VALUES (?, ?, ?, ?, ?)`, txID, string(blob), reason, attempts, database.FormatTime(time.Now())); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_operations WHERE tx_id = ?`, txID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM sync_transactions WHERE id = ?`, txID)
		return err
	})
	if err != nil {
		return fmt.Errorf("dead-letter %d: %w", txID, err)
	}
	logger.L().Warn("Queued transaction moved to dead letter",
		zap.Int64("tx_id", txID),
		zap.String("reason", reason),
	)
	return nil
}

func (q *Queue) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_transactions`).Scan(&n)
	return n, err
}

func (q *Queue) DeadLetterCount(ctx context.Context) (int, error) {
	var n int
	err := q.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_dead_letter`).Scan(&n)
	return n, err
}

func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.DB.QueryContext(ctx, `
		SELECT id, tx_id, operations, reason, attempts, failed_at
		FROM sync_dead_letter ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		var blob string
		var failed database.NullTime
		if err := rows.Scan(&d.ID, &d.TxID, &blob, &d.Reason, &d.Attempts, &failed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &d.Operations); err != nil {
			return nil, fmt.Errorf("decode dead letter %d: %w", d.ID, err)
		}
		d.FailedAt = failed.Time
		out = append(out, d)
	}
	return out, rows.Err()
}

// HasPending is the queue-bound form of the package-level helper.
func (q *Queue) HasPending(ctx context.Context, table, rowID string) (bool, error) {
	return HasPending(ctx, q.db.DB, table, rowID)
}
