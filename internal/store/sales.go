package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
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

// SaleLine is one line of a sale. Without UnitPrice the catalog price is used.
type SaleLine struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Name      string           `json:"product_name,omitempty"`
}

type Payment struct {
	Method     model.PaymentMethod `json:"payment_method" validate:"required"`
	CashAmount *decimal.Decimal    `json:"cash_amount,omitempty"`
	ClientID   string              `json:"client_id,omitempty"`
	Notes      string              `json:"notes,omitempty"`
}

type SaleInput struct {
	Payment
	OrderID string            `json:"order_id,omitempty"`
	Channel model.SaleChannel `json:"channel,omitempty"`
	Items   []SaleLine        `json:"items" validate:"required,min=1,dive"`
	// Confirm names the reservation holds this sale finalises.
	Confirm *model.SourceRef `json:"-"`
}

func (s *Store) CreateSale(ctx context.Context, sc shift.Context, in SaleInput) (*model.Sale, error) {
	var sale *model.Sale
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var ops []queue.Operation
		var err error
		sale, ops, err = CreateSaleTx(ctx, tx, sc, in)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, ops...)
		return err
	})
	if err != nil {
		return nil, err
	}
	logSale(sale)
	return sale, nil
}

// CreateSaleTx writes a sale with its items on the caller's transaction and
// returns the queue operations for the caller to enqueue with its own.
func CreateSaleTx(ctx context.Context, tx database.Execer, sc shift.Context, in SaleInput) (*model.Sale, []queue.Operation, error) {
	if err := shift.RequireOpenTx(ctx, tx, sc.ShiftID); err != nil {
		return nil, nil, err
	}
	if len(in.Items) == 0 {
		return nil, nil, ErrEmptySale
	}
	if !in.Method.Valid() {
		return nil, nil, fmt.Errorf("%w: payment method %q", ErrInvalidInput, in.Method)
	}

	lines := make([]lineItem, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidInput, it.ProductID)
		}
		if it.UnitPrice == nil {
			priced, err := priceLines(ctx, tx, []model.ReservationItem{{ProductID: it.ProductID, Quantity: it.Quantity}})
			if err != nil {
				return nil, nil, err
			}
			lines = append(lines, priced[0])
			continue
		}
		if it.UnitPrice.IsNegative() {
			return nil, nil, fmt.Errorf("%w: negative price for %s", ErrInvalidInput, it.ProductID)
		}
		name := it.Name
		if name == "" {
			if p, err := getProduct(ctx, tx, it.ProductID); err == nil {
				name = p.Name
			}
		}
		lines = append(lines, lineItem{ProductID: it.ProductID, Name: name, Quantity: it.Quantity, UnitPrice: *it.UnitPrice})
	}

	total := linesTotal(lines)
	cash, err := cashPortion(in.Payment, total)
	if err != nil {
		return nil, nil, err
	}
	channel := in.Channel
	if channel == "" {
		channel = model.ChannelPOS
	}

	now := time.Now().UTC()
	sale := &model.Sale{
		ID:            uuid.NewString(),
		BranchID:      sc.BranchID,
		ShiftID:       sc.ShiftID,
		OrderID:       in.OrderID,
		ClientID:      in.ClientID,
		OperatorID:    sc.OperatorID,
		TotalAmount:   total,
		CashAmount:    cash,
		PaymentMethod: in.Method,
		Status:        model.SaleCompleted,
		Channel:       channel,
		Notes:         in.Notes,
		CreatedAt:     now,
	}

	saleRow := database.NewRow("sales").
		Set("id", sale.ID).
		Set("branch_id", sale.BranchID).
		Set("shift_id", sale.ShiftID).
		Set("order_id", sale.OrderID).
		Set("client_id", sale.ClientID).
		Set("operator_id", sale.OperatorID).
		Set("total_amount", sale.TotalAmount).
		Set("cash_amount", sale.CashAmount).
		Set("payment_method", string(sale.PaymentMethod)).
		Set("status", string(sale.Status)).
		Set("channel", string(sale.Channel)).
		Set("notes", sale.Notes).
		Set("synced", false).
		Set("created_at", sale.CreatedAt)
	local, err := saleRow.Fit(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	if err := local.Insert(ctx, tx); err != nil {
		return nil, nil, err
	}
	ops := []queue.Operation{queue.Insert(saleRow)}

	for _, l := range lines {
		item := model.SaleItem{
			ID:          uuid.NewString(),
			SaleID:      sale.ID,
			ProductID:   l.ProductID,
			ProductName: l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		}
		row := database.NewRow("sale_items").
			Set("id", item.ID).
			Set("sale_id", item.SaleID).
			Set("product_id", item.ProductID).
			Set("product_name", item.ProductName).
			Set("quantity", item.Quantity).
			Set("unit_price", item.UnitPrice).
			Set("total_price", item.TotalPrice)
		if err := row.Insert(ctx, tx); err != nil {
			return nil, nil, err
		}
		ops = append(ops, queue.Insert(row))
		sale.Items = append(sale.Items, item)
	}

	if in.Confirm != nil {
		_, moveOps, err := reservation.ConfirmTx(ctx, tx, *in.Confirm, "sale")
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, moveOps...)
	} else {
		moveOps, err := directSaleMovementsTx(ctx, tx, sale.ID, lines, now)
		if err != nil {
			return nil, nil, err
		}
		ops = append(ops, moveOps...)
	}
	return sale, ops, nil
}

// directSaleMovementsTx decrements tracked products sold without a prior
// hold. Lines for untracked or unknown products move nothing.
func directSaleMovementsTx(ctx context.Context, tx database.Execer, saleID string, lines []lineItem, at time.Time) ([]queue.Operation, error) {
	var ops []queue.Operation
	for _, l := range lines {
		var stock sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = ?`, l.ProductID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !stock.Valid) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read stock for %s: %w", l.ProductID, err)
		}
		_, op, err := reservation.RecordMovementTx(ctx, tx, model.StockMovement{
			ProductID: l.ProductID,
			Quantity:  -l.Quantity,
			Reason:    "sale",
			SourceID:  saleID,
			CreatedAt: at,
		})
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// cashPortion is the part of a sale paid in cash, which is what the till
// reconciliation counts.
func cashPortion(p Payment, total decimal.Decimal) (decimal.Decimal, error) {
	if p.CashAmount != nil {
		c := *p.CashAmount
		if c.IsNegative() || c.GreaterThan(total) {
			return decimal.Zero, fmt.Errorf("%w: cash amount %s outside 0..%s", ErrInvalidInput, c, total)
		}
		if p.Method != model.PaymentCash && p.Method != model.PaymentMixed && !c.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: %s payment cannot carry cash", ErrInvalidInput, p.Method)
		}
		return c, nil
	}
	switch p.Method {
	case model.PaymentCash:
		return total, nil
	case model.PaymentMixed:
		return decimal.Zero, fmt.Errorf("%w: mixed payment needs cash_amount", ErrInvalidInput)
	default:
		return decimal.Zero, nil
	}
}

func logSale(sale *model.Sale) {
	logger.L().Info("Sale recorded",
		zap.String("sale_id", sale.ID),
		zap.String("shift_id", sale.ShiftID),
		zap.String("total", sale.TotalAmount.String()),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.Int("items", len(sale.Items)),
	)
}

var saleColumns = []string{
	"id", "branch_id", "shift_id", "order_id", "client_id", "operator_id", "total_amount", "cash_amount",
	"payment_method", "status", "channel", "notes", "synced", "created_at",
}

// selectSales is the sales select prefix for the live table.
func selectSales(ctx context.Context, q database.Execer) (string, error) {
	cols, err := database.SelectColumns(ctx, q, "sales", saleColumns...)
	if err != nil {
		return "", err
	}
	return `SELECT ` + cols + ` FROM sales`, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*model.Sale, error) {
	query, err := selectSales(ctx, s.db.DB)
	if err != nil {
		return nil, err
	}
	sale, err := scanSale(s.db.DB.QueryRowContext(ctx, query+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if sale.Items, err = saleItems(ctx, s.db.DB, sale.ID); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSalesByShift(ctx context.Context, shiftID string) ([]model.Sale, error) {
	query, err := selectSales(ctx, s.db.DB)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.DB.QueryContext(ctx, query+` WHERE shift_id = ? ORDER BY created_at`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	var sales []model.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range sales {
		if sales[i].Items, err = saleItems(ctx, s.db.DB, sales[i].ID); err != nil {
			return nil, err
		}
	}
	return sales, nil
}

// FindSaleByNoteTx returns the first sale of the shift whose notes are key,
// or key followed by " - " and free text. Nil when there is none.
func FindSaleByNoteTx(ctx context.Context, tx database.Execer, shiftID, key string) (*model.Sale, error) {
	query, err := selectSales(ctx, tx)
	if err != nil {
		return nil, err
	}
	sale, err := scanSale(tx.QueryRowContext(ctx,
		query+` WHERE shift_id = ? AND (notes = ? OR notes LIKE ? ESCAPE '\') ORDER BY created_at LIMIT 1`,
		shiftID, key, escapeLike(key)+" - %"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sale, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func saleItems(ctx context.Context, q database.Execer, saleID string) ([]model.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, COALESCE(si.product_name, p.name, ''),
		       si.quantity, si.unit_price, si.total_price
		FROM sale_items si LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = ? ORDER BY si.rowid`, saleID)
	if err != nil {
		return nil, fmt.Errorf("sale items: %w", err)
	}
	defer rows.Close()

	var items []model.SaleItem
	for rows.Next() {
		var it model.SaleItem
		var unit, total string
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.ProductName, &it.Quantity, &unit, &total); err != nil {
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

func scanSale(sc scanner) (*model.Sale, error) {
	var sale model.Sale
	var shiftID, orderID, clientID, cash, channel, notes sql.NullString
	var total, method, status string
	var created database.NullTime
	err := sc.Scan(&sale.ID, &sale.BranchID, &shiftID, &orderID, &clientID, &sale.OperatorID, &total, &cash,
		&method, &status, &channel, &notes, &sale.Synced, &created)
	if err != nil {
		return nil, err
	}
	sale.ShiftID = shiftID.String
	sale.OrderID = orderID.String
	sale.ClientID = clientID.String
	sale.PaymentMethod = model.PaymentMethod(method)
	sale.Status = model.SaleStatus(status)
	sale.Channel = model.SaleChannel(channel.String)
	sale.Notes = notes.String
	sale.CreatedAt = created.Time
	if sale.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("sale %s total: %w", sale.ID, err)
	}
	if cash.Valid && cash.String != "" {
		if sale.CashAmount, err = decimal.NewFromString(cash.String); err != nil {
			return nil, fmt.Errorf("sale %s cash amount: %w", sale.ID, err)
		}
	}
	return &sale, nil
}
