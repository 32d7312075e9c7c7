// Package reservation holds provisional stock against in-flight orders and
// deliveries on this terminal. Holds are terminal-local: they stop one
// terminal from promising stock it does not have, they are not a
// distributed lock across terminals.
package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/queue"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("reservation quantity must be positive")
	ErrInvalidSource     = errors.New("invalid reservation source")
)

type Ledger struct {
	db *database.Database
}

func NewLedger(db *database.Database) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) AddReservation(ctx context.Context, productID string, qty int, src model.SourceRef) error {
	return l.AddReservations(ctx, []model.ReservationItem{{ProductID: productID, Quantity: qty}}, src)
}

// AddReservations records holds for every item in one transaction.
func (l *Ledger) AddReservations(ctx context.Context, items []model.ReservationItem, src model.SourceRef) error {
	return l.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return AddTx(ctx, tx, src, items)
	})
}

// AddTx accumulates holds for src on the caller's transaction. A tracked
// product whose available stock is below the requested quantity fails the
// whole call with ErrInsufficientStock.
func AddTx(ctx context.Context, tx database.Execer, src model.SourceRef, items []model.ReservationItem) error {
	if !src.Type.Valid() || src.ID == "" {
		return fmt.Errorf("%w: %s/%s", ErrInvalidSource, src.Type, src.ID)
	}
	now := database.FormatTime(time.Now())
	for _, it := range items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: %s x %d", ErrInvalidQuantity, it.ProductID, it.Quantity)
		}
		avail, tracked, err := available(ctx, tx, it.ProductID)
		if err != nil {
			return err
		}
		if tracked && avail < it.Quantity {
			return fmt.Errorf("%w: product %s has %d available, %d requested",
				ErrInsufficientStock, it.ProductID, avail, it.Quantity)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_reservations (id, product_id, quantity, source_type, source_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_type, source_id, product_id)
			DO UPDATE SET quantity = quantity + excluded.quantity, updated_at = excluded.updated_at`,
			uuid.NewString(), it.ProductID, it.Quantity, string(src.Type), src.ID, now, now); err != nil {
			return fmt.Errorf("reserve %s: %w", it.ProductID, err)
		}
	}
	return nil
}

// Available is stock on hand minus active holds minus local stock movements
// the catalog mirror does not reflect yet: movements still queued, and
// movements created after the product row was last refreshed from the
// remote. tracked is false for products without a stock count, which are
// never limited.
func (l *Ledger) Available(ctx context.Context, productID string) (int, bool, error) {
	return available(ctx, l.db.DB, productID)
}

func available(ctx context.Context, q database.Execer, productID string) (int, bool, error) {
	var stock sql.NullInt64
	var refreshed database.NullTime
	err := q.QueryRowContext(ctx,
		`SELECT stock_quantity, last_synced_at FROM products WHERE id = ?`, productID).Scan(&stock, &refreshed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !stock.Valid) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read stock for %s: %w", productID, err)
	}

	var reserved int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations WHERE product_id = ?`, productID).Scan(&reserved); err != nil {
		return 0, true, err
	}
	moved, err := unreflectedMovements(ctx, q, productID, refreshed)
	if err != nil {
		return 0, true, err
	}
	return int(stock.Int64 - reserved + moved), true, nil
}

// unreflectedMovements sums the signed movements of a product that are not
// part of its mirrored stock count.
func unreflectedMovements(ctx context.Context, q database.Execer, productID string, refreshed database.NullTime) (int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT quantity, synced, created_at FROM stock_movements WHERE product_id = ?`, productID)
	if err != nil {
		return 0, fmt.Errorf("read movements for %s: %w", productID, err)
	}
	defer rows.Close()

	var sum int64
	for rows.Next() {
		var qty int64
		var synced sql.NullBool
		var created database.NullTime
		if err := rows.Scan(&qty, &synced, &created); err != nil {
			return 0, err
		}
		if !synced.Bool || !refreshed.Valid || !created.Valid || created.Time.After(refreshed.Time) {
			sum += qty
		}
	}
	return sum, rows.Err()
}

// ReleaseTx gives back part of a hold, deleting it once nothing is left.
func ReleaseTx(ctx context.Context, tx database.Execer, src model.SourceRef, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations SET quantity = MAX(quantity - ?, 0), updated_at = ?
		WHERE source_type = ? AND source_id = ? AND product_id = ?`,
		qty, database.FormatTime(time.Now()), string(src.Type), src.ID, productID); err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM stock_reservations
		WHERE source_type = ? AND source_id = ? AND product_id = ? AND quantity = 0`,
		string(src.Type), src.ID, productID)
	return err
}

// RemoveReservation releases every hold of src. Calling it for a source with
// no holds is a no-op.
func (l *Ledger) RemoveReservation(ctx context.Context, src model.SourceRef) ([]model.Reservation, error) {
	var released []model.Reservation
	err := l.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		released, err = RemoveTx(ctx, tx, src)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(released) > 0 {
		logger.L().Info("Reservations released",
			zap.String("source_type", string(src.Type)),
			zap.String("source_id", src.ID),
			zap.Int("count", len(released)),
		)
	}
	return released, nil
}

func RemoveTx(ctx context.Context, tx database.Execer, src model.SourceRef) ([]model.Reservation, error) {
	held, err := list(ctx, tx, src)
	if err != nil {
		return nil, err
	}
	if len(held) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stock_reservations WHERE source_type = ? AND source_id = ?`, string(src.Type), src.ID); err != nil {
		return nil, fmt.Errorf("remove reservations: %w", err)
	}
	return held, nil
}

// MarkReservationConfirmed turns the holds of a finalised sale into stock
// movements and queues them for upload.
func (l *Ledger) MarkReservationConfirmed(ctx context.Context, src model.SourceRef) ([]model.StockMovement, error) {
	var moved []model.StockMovement
	err := l.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var ops []queue.Operation
		var err error
		moved, ops, err = ConfirmTx(ctx, tx, src, "sale")
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, ops...)
		return err
	})
	return moved, err
}

// ConfirmTx converts holds into append-only stock movements on the caller's
// transaction and returns the queue operations describing them, for the
// caller to enqueue alongside its own writes.
func ConfirmTx(ctx context.Context, tx database.Execer, src model.SourceRef, reason string) ([]model.StockMovement, []queue.Operation, error) {
	held, err := RemoveTx(ctx, tx, src)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	movements := make([]model.StockMovement, 0, len(held))
	ops := make([]queue.Operation, 0, len(held))
	for _, r := range held {
		if r.Quantity == 0 {
			continue
		}
		m, op, err := RecordMovementTx(ctx, tx, model.StockMovement{
			ProductID:  r.ProductID,
			Quantity:   -r.Quantity,
			Reason:     reason,
			SourceType: src.Type,
			SourceID:   src.ID,
			CreatedAt:  now,
		})
		if err != nil {
			return nil, nil, err
		}
		movements = append(movements, m)
		ops = append(ops, op)
	}
	return movements, ops, nil
}

// RecordMovementTx appends one stock movement and returns it with its upload
// operation. ID and CreatedAt are filled in when empty.
func RecordMovementTx(ctx context.Context, tx database.Execer, m model.StockMovement) (model.StockMovement, queue.Operation, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	row := database.NewRow("stock_movements").
		Set("id", m.ID).
		Set("product_id", m.ProductID).
		Set("quantity", m.Quantity).
		Set("reason", m.Reason).
		Set("source_type", string(m.SourceType)).
		Set("source_id", m.SourceID).
		Set("synced", false).
		Set("created_at", m.CreatedAt)
	if err := row.Insert(ctx, tx); err != nil {
		return model.StockMovement{}, queue.Operation{}, err
	}
	return m, queue.Insert(row), nil
}

func (l *Ledger) GetReservations(ctx context.Context, src model.SourceRef) ([]model.Reservation, error) {
	return list(ctx, l.db.DB, src)
}

// Reserved is the net quantity held by src across all products.
func (l *Ledger) Reserved(ctx context.Context, src model.SourceRef) (int, error) {
	var n int
	err := l.db.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations WHERE source_type = ? AND source_id = ?`,
		string(src.Type), src.ID).Scan(&n)
	return n, err
}

// CleanupExpiredReservations releases holds untouched for longer than the
// window and returns what was cleared.
func (l *Ledger) CleanupExpiredReservations(ctx context.Context, olderThanMinutes int) ([]model.Reservation, error) {
	if olderThanMinutes <= 0 {
		olderThanMinutes = 60
	}
	cutoff := time.Now().Add(-time.Duration(olderThanMinutes) * time.Minute)

	var expired []model.Reservation
	err := l.db.ExecTx(ctx, func(tx *sql.Tx) error {
		all, err := scanReservations(tx.QueryContext(ctx, selectReservations+` ORDER BY updated_at`))
		if err != nil {
			return err
		}
		for _, r := range all {
			if !r.UpdatedAt.Before(cutoff) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM stock_reservations WHERE id = ?`, r.ID); err != nil {
				return err
			}
			expired = append(expired, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup reservations: %w", err)
	}

	if len(expired) > 0 {
		logger.L().Warn("Expired reservations released",
			zap.Int("count", len(expired)),
			zap.Int("older_than_minutes", olderThanMinutes),
		)
	}
	return expired, nil
}

const selectReservations = `
	SELECT id, product_id, quantity, source_type, source_id, created_at, updated_at
	FROM stock_reservations`

func list(ctx context.Context, q database.Execer, src model.SourceRef) ([]model.Reservation, error) {
	return scanReservations(q.QueryContext(ctx,
		selectReservations+` WHERE source_type = ? AND source_id = ? ORDER BY product_id`,
		string(src.Type), src.ID))
}

func scanReservations(rows *sql.Rows, err error) ([]model.Reservation, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var r model.Reservation
		var st string
		var created, updated database.NullTime
		if err := rows.Scan(&r.ID, &r.ProductID, &r.Quantity, &st, &r.SourceID, &created, &updated); err != nil {
			return nil, err
		}
		r.SourceType = model.SourceType(st)
		r.CreatedAt = created.Time
		r.UpdatedAt = updated.Time
		out = append(out, r)
	}
	return out, rows.Err()
}
