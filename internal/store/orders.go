package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/reservation"
	"pos-sync-terminal/internal/shift"
)

type OrderInput struct {
	TableID      string                  `json:"table_id,omitempty"`
	CustomerName string                  `json:"customer_name,omitempty"`
	Items        []model.ReservationItem `json:"items" validate:"dive"`
}

func orderSource(orderID string) model.SourceRef {
	return model.SourceRef{Type: model.SourceOrder, ID: orderID}
}

// CreateOrder opens a ticket with its items and their stock holds in one
// transaction.
func (s *Store) CreateOrder(ctx context.Context, sc shift.Context, in OrderInput) (*model.Order, error) {
	now := time.Now().UTC()
	order := &model.Order{
		ID:           uuid.NewString(),
		TableID:      in.TableID,
		ShiftID:      sc.ShiftID,
		BranchID:     sc.BranchID,
		OperatorID:   sc.OperatorID,
		CustomerName: in.CustomerName,
		Status:       model.OrderPending,
		Total:        decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := shift.RequireOpenTx(ctx, tx, sc.ShiftID); err != nil {
			return err
		}
		lines, err := priceLines(ctx, tx, in.Items)
		if err != nil {
			return err
		}
		order.Total = linesTotal(lines)

		row := orderRow(order)
		if err := row.Insert(ctx, tx); err != nil {
			return err
		}
		ops := []queue.Operation{queue.Insert(row)}

		itemOps, err := insertOrderItems(ctx, tx, order, lines)
		if err != nil {
			return err
		}
		ops = append(ops, itemOps...)

		if err := reservation.AddTx(ctx, tx, orderSource(order.ID), in.Items); err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, ops...)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.String()),
	)
	return order, nil
}

// AddOrderItems appends lines to a pending order and grows its holds.
func (s *Store) AddOrderItems(ctx context.Context, orderID string, items []model.ReservationItem) (*model.Order, error) {
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		order, err := pendingOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := shift.RequireOpenTx(ctx, tx, order.ShiftID); err != nil {
			return err
		}
		lines, err := priceLines(ctx, tx, items)
		if err != nil {
			return err
		}
		ops, err := insertOrderItems(ctx, tx, order, lines)
		if err != nil {
			return err
		}
		if err := reservation.AddTx(ctx, tx, orderSource(orderID), items); err != nil {
			return err
		}
		op, err := refreshOrderTotal(ctx, tx, order)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, append(ops, op)...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// RemoveOrderItem drops one line of a pending order and releases its hold.
func (s *Store) RemoveOrderItem(ctx context.Context, orderID, itemID string) (*model.Order, error) {
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		order, err := pendingOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := shift.RequireOpenTx(ctx, tx, order.ShiftID); err != nil {
			return err
		}
		var productID string
		var qty int
		err = tx.QueryRowContext(ctx,
			`SELECT product_id, quantity FROM order_items WHERE id = ? AND order_id = ?`, itemID, orderID).
			Scan(&productID, &qty)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order item %s: %w", itemID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE id = ?`, itemID); err != nil {
			return err
		}
		if err := reservation.ReleaseTx(ctx, tx, orderSource(orderID), productID, qty); err != nil {
			return err
		}
		op, err := refreshOrderTotal(ctx, tx, order)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, queue.Delete("order_items", itemID), op)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, orderID)
}

// CancelOrder is terminal for a pending order and releases all its holds.
func (s *Store) CancelOrder(ctx context.Context, orderID string) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		order, err := pendingOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order.Status = model.OrderCancelled
		order.UpdatedAt = time.Now().UTC()
		row := orderRow(order)
		if err := row.Upsert(ctx, tx); err != nil {
			return err
		}
		if _, err := reservation.RemoveTx(ctx, tx, orderSource(orderID)); err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, queue.Update(row))
		return err
	})
}

// CompleteOrder turns a pending order into a sale on the given shift,
// confirms its holds and closes the order, all in one transaction.
func (s *Store) CompleteOrder(ctx context.Context, sc shift.Context, orderID string, pay Payment) (*model.Sale, error) {
	var sale *model.Sale
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		order, err := pendingOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		items, err := orderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		lines := make([]SaleLine, 0, len(items))
		for _, it := range items {
			price := it.UnitPrice
			lines = append(lines, SaleLine{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				UnitPrice: &price,
				Name:      it.ProductName,
			})
		}
		src := orderSource(orderID)
		var ops []queue.Operation
		sale, ops, err = CreateSaleTx(ctx, tx, sc, SaleInput{
			Payment: pay,
			OrderID: orderID,
			Channel: model.ChannelPOS,
			Items:   lines,
			Confirm: &src,
		})
		if err != nil {
			return err
		}

		order.Status = model.OrderCompleted
		order.UpdatedAt = time.Now().UTC()
		row := orderRow(order)
		if err := row.Upsert(ctx, tx); err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, append(ops, queue.Update(row))...)
		return err
	})
	if err != nil {
		return nil, err
	}
	logSale(sale)
	return sale, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	order, err := getOrder(ctx, s.db.DB, id)
	if err != nil {
		return nil, err
	}
	if order.Items, err = orderItems(ctx, s.db.DB, id); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOpenOrders returns the pending tickets of a shift without their items.
func (s *Store) ListOpenOrders(ctx context.Context, shiftID string) ([]model.Order, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		selectOrders+` WHERE shift_id = ? AND status = 'pending' ORDER BY created_at`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func pendingOrder(ctx context.Context, q database.Execer, orderID string) (*model.Order, error) {
	order, err := getOrder(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, orderID, order.Status)
	}
	return order, nil
}

func insertOrderItems(ctx context.Context, tx database.Execer, order *model.Order, lines []lineItem) ([]queue.Operation, error) {
	ops := make([]queue.Operation, 0, len(lines))
	for _, l := range lines {
		item := model.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		}
		row := database.NewRow("order_items").
			Set("id", item.ID).
			Set("order_id", item.OrderID).
			Set("product_id", item.ProductID).
			Set("quantity", item.Quantity).
			Set("unit_price", item.UnitPrice).
			Set("total_price", item.TotalPrice)
		if err := row.Insert(ctx, tx); err != nil {
			return nil, err
		}
		ops = append(ops, queue.Insert(row))
		order.Items = append(order.Items, item)
	}
	return ops, nil
}

// refreshOrderTotal recomputes the running total from the stored lines and
// returns the queued update for the order row.
func refreshOrderTotal(ctx context.Context, tx database.Execer, order *model.Order) (queue.Operation, error) {
	items, err := orderItems(ctx, tx, order.ID)
	if err != nil {
		return queue.Operation{}, err
	}
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalPrice)
	}
	order.Total = total
	order.UpdatedAt = time.Now().UTC()
	row := orderRow(order)
	if err := row.Upsert(ctx, tx); err != nil {
		return queue.Operation{}, err
	}
	return queue.Update(row), nil
}

func orderRow(o *model.Order) *database.Row {
	return database.NewRow("orders").
		Set("id", o.ID).
		Set("table_id", o.TableID).
		Set("shift_id", o.ShiftID).
		Set("branch_id", o.BranchID).
		Set("operator_id", o.OperatorID).
		Set("customer_name", o.CustomerName).
		Set("status", string(o.Status)).
		Set("total", o.Total).
		Set("synced", false).
		Set("created_at", o.CreatedAt).
		Set("updated_at", o.UpdatedAt)
}

const selectOrders = `
	SELECT id, table_id, shift_id, branch_id, operator_id, customer_name, status, total, synced, created_at, updated_at
	FROM orders`

func getOrder(ctx context.Context, q database.Execer, id string) (*model.Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, selectOrders+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func scanOrder(sc scanner) (*model.Order, error) {
	var o model.Order
	var tableID, customer sql.NullString
	var status, total string
	var created, updated database.NullTime
	if err := sc.Scan(&o.ID, &tableID, &o.ShiftID, &o.BranchID, &o.OperatorID, &customer,
		&status, &total, &o.Synced, &created, &updated); err != nil {
		return nil, err
	}
	o.TableID = tableID.String
	o.CustomerName = customer.String
	o.Status = model.OrderStatus(status)
	o.CreatedAt = created.Time
	o.UpdatedAt = updated.Time
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.Total = d
	return &o, nil
}

func orderItems(ctx context.Context, q database.Execer, orderID string) ([]model.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, COALESCE(p.name, ''), oi.quantity, oi.unit_price, oi.total_price
		FROM order_items oi LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ? ORDER BY oi.rowid`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order items: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		var unit, total string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &unit, &total); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if it.TotalPrice, err = decimal.NewFromString(total); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
