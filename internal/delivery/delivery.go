// Package delivery tracks delivery and Rappi orders from intake to the sale
// they produce, and guards against a second sale when the same delivery is
// confirmed twice.
package delivery

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
	"pos-sync-terminal/internal/store"
)

var (
	ErrNotFound         = errors.New("delivery not found")
	ErrCancelled        = errors.New("delivery was cancelled")
	ErrAlreadyDelivered = errors.New("delivery was already delivered")
	ErrInvalidChannel   = errors.New("delivery channel must be delivery or rappi")
)

type ItemInput struct {
	ProductID string           `json:"product_id" validate:"required"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type CreateInput struct {
	Channel         model.SaleChannel   `json:"channel" validate:"required,oneof=delivery rappi"`
	ExternalOrderID string              `json:"external_order_id,omitempty"`
	CustomerName    string              `json:"customer_name,omitempty"`
	Address         string              `json:"address,omitempty"`
	Phone           string              `json:"phone,omitempty"`
	PaymentMethod   model.PaymentMethod `json:"payment_method,omitempty"`
	Items           []ItemInput         `json:"items" validate:"required,min=1,dive"`
}

type Service struct {
	db *database.Database
}

func NewService(db *database.Database) *Service {
	return &Service{db: db}
}

// Source is the reservation owner for a delivery.
func Source(d *model.Delivery) model.SourceRef {
	if d.Channel == model.ChannelRappi {
		return model.SourceRef{Type: model.SourceRappi, ID: d.ID}
	}
	return model.SourceRef{Type: model.SourceDelivery, ID: d.ID}
}

// NaturalKey is the stable marker written into the notes of the sale a
// delivery produces.
func NaturalKey(d *model.Delivery) string {
	if d.Channel == model.ChannelRappi && d.ExternalOrderID != "" {
		return "Rappi #" + d.ExternalOrderID
	}
	id := d.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Domicilio " + id
}

// Create records a delivery with its items and holds the stock it needs.
func (s *Service) Create(ctx context.Context, sc shift.Context, in CreateInput) (*model.Delivery, error) {
	if in.Channel != model.ChannelDelivery && in.Channel != model.ChannelRappi {
		return nil, ErrInvalidChannel
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: delivery has no items", store.ErrInvalidInput)
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: payment method %q", store.ErrInvalidInput, in.PaymentMethod)
	}

	now := time.Now().UTC()
	d := &model.Delivery{
		ID:              uuid.NewString(),
		BranchID:        sc.BranchID,
		ShiftID:         sc.ShiftID,
		Channel:         in.Channel,
		ExternalOrderID: in.ExternalOrderID,
		CustomerName:    in.CustomerName,
		Address:         in.Address,
		Phone:           in.Phone,
		Status:          model.DeliveryPending,
		PaymentMethod:   in.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		holds := make([]model.ReservationItem, 0, len(in.Items))
		var itemRows []*database.Row
		total := decimal.Zero
		for _, it := range in.Items {
			if it.Quantity <= 0 {
				return fmt.Errorf("%w: quantity for %s must be positive", store.ErrInvalidInput, it.ProductID)
			}
			price, err := unitPrice(ctx, tx, it)
			if err != nil {
				return err
			}
			item := model.DeliveryItem{
				ID:         uuid.NewString(),
				DeliveryID: d.ID,
				ProductID:  it.ProductID,
				Quantity:   it.Quantity,
				UnitPrice:  price,
				TotalPrice: model.LineTotal(price, it.Quantity),
			}
			total = total.Add(item.TotalPrice)
			d.Items = append(d.Items, item)
			holds = append(holds, model.ReservationItem{ProductID: it.ProductID, Quantity: it.Quantity})
			itemRows = append(itemRows, itemRow(item))
		}
		d.Total = total

		row := deliveryRow(d)
		if err := row.Insert(ctx, tx); err != nil {
			return err
		}
		ops := []queue.Operation{queue.Insert(row)}
		for _, r := range itemRows {
			if err := r.Insert(ctx, tx); err != nil {
				return err
			}
			ops = append(ops, queue.Insert(r))
		}
		if err := reservation.AddTx(ctx, tx, Source(d), holds); err != nil {
			return err
		}
		_, err := queue.Enqueue(ctx, tx, ops...)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("Delivery created",
		zap.String("delivery_id", d.ID),
		zap.String("channel", string(d.Channel)),
		zap.String("total", d.Total.String()),
	)
	return d, nil
}

// Dispatch marks a pending delivery as on its way.
func (s *Service) Dispatch(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	var d *model.Delivery
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var err error
		if d, err = getDelivery(ctx, tx, deliveryID); err != nil {
			return err
		}
		switch d.Status {
		case model.DeliveryCancelled:
			return ErrCancelled
		case model.DeliveryDelivered:
			return ErrAlreadyDelivered
		}
		op, err := setStatus(ctx, tx, d, model.DeliveryDispatched)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, op)
		return err
	})
	return d, err
}

// MarkDelivered completes a delivery. The first confirmation within a shift
// creates the sale and confirms the stock holds; any later confirmation finds
// that sale by its natural key and only repeats the status update. created
// reports which path ran.
func (s *Service) MarkDelivered(ctx context.Context, sc shift.Context, deliveryID string, pay store.Payment) (*model.Sale, bool, error) {
	var sale *model.Sale
	var created bool
	var key string

	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		d, err := getDelivery(ctx, tx, deliveryID)
		if err != nil {
			return err
		}
		if d.Status == model.DeliveryCancelled {
			return ErrCancelled
		}
		if err := shift.RequireOpenTx(ctx, tx, sc.ShiftID); err != nil {
			return err
		}

		key = NaturalKey(d)
		existing, err := store.FindSaleByNoteTx(ctx, tx, sc.ShiftID, key)
		if err != nil {
			return err
		}

		var ops []queue.Operation
		if existing != nil {
			sale = existing
			_, moveOps, err := reservation.ConfirmTx(ctx, tx, Source(d), "delivery")
			if err != nil {
				return err
			}
			ops = moveOps
		} else {
			in, err := saleInput(d, pay, key)
			if err != nil {
				return err
			}
			if sale, ops, err = store.CreateSaleTx(ctx, tx, sc, in); err != nil {
				return err
			}
			created = true
		}

		op, err := setStatus(ctx, tx, d, model.DeliveryDelivered)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, append(ops, op)...)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	log := logger.L().With(zap.String("delivery_id", deliveryID), zap.String("natural_key", key))
	if created {
		log.Info("Delivery confirmed, sale recorded", zap.String("sale_id", sale.ID))
	} else {
		log.Warn("Delivery confirmed again, existing sale kept", zap.String("sale_id", sale.ID))
	}
	return sale, created, nil
}

// Cancel releases a delivery's holds. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, deliveryID string) ([]model.Reservation, error) {
	var released []model.Reservation
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		d, err := getDelivery(ctx, tx, deliveryID)
		if err != nil {
			return err
		}
		if d.Status == model.DeliveryDelivered {
			return ErrAlreadyDelivered
		}
		if released, err = reservation.RemoveTx(ctx, tx, Source(d)); err != nil {
			return err
		}
		if d.Status == model.DeliveryCancelled {
			return nil
		}
		op, err := setStatus(ctx, tx, d, model.DeliveryCancelled)
		if err != nil {
			return err
		}
		_, err = queue.Enqueue(ctx, tx, op)
		return err
	})
	return released, err
}

func (s *Service) Get(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	return getDelivery(ctx, s.db.DB, deliveryID)
}

func saleInput(d *model.Delivery, pay store.Payment, key string) (store.SaleInput, error) {
	if pay.Method == "" {
		pay.Method = d.PaymentMethod
	}
	if pay.Method == "" && d.Channel == model.ChannelRappi {
		pay.Method = model.PaymentRappi
	}
	if pay.Method == "" {
		return store.SaleInput{}, fmt.Errorf("%w: payment method required", store.ErrInvalidInput)
	}
	notes := key
	if pay.Notes != "" {
		notes += " - " + pay.Notes
	}
	pay.Notes = notes

	lines := make([]store.SaleLine, 0, len(d.Items))
	for _, it := range d.Items {
		price := it.UnitPrice
		lines = append(lines, store.SaleLine{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: &price})
	}
	src := Source(d)
	return store.SaleInput{
		Payment: pay,
		Channel: d.Channel,
		Items:   lines,
		Confirm: &src,
	}, nil
}

func unitPrice(ctx context.Context, tx database.Execer, it ItemInput) (decimal.Decimal, error) {
	if it.UnitPrice != nil {
		if it.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: negative price for %s", store.ErrInvalidInput, it.ProductID)
		}
		return *it.UnitPrice, nil
	}
	var price string
	err := tx.QueryRowContext(ctx, `SELECT price FROM products WHERE id = ? AND active = 1`, it.ProductID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("product %s: %w", it.ProductID, store.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(price)
}

func setStatus(ctx context.Context, tx database.Execer, d *model.Delivery, status model.DeliveryStatus) (queue.Operation, error) {
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	row := deliveryRow(d)
	if err := row.Upsert(ctx, tx); err != nil {
		return queue.Operation{}, err
	}
	return queue.Update(row), nil
}

func deliveryRow(d *model.Delivery) *database.Row {
	return database.NewRow("deliveries").
		Set("id", d.ID).
		Set("branch_id", d.BranchID).
		Set("shift_id", d.ShiftID).
		Set("channel", string(d.Channel)).
		Set("external_order_id", d.ExternalOrderID).
		Set("customer_name", d.CustomerName).
		Set("address", d.Address).
		Set("phone", d.Phone).
		Set("status", string(d.Status)).
		Set("total", d.Total).
		Set("payment_method", string(d.PaymentMethod)).
		Set("synced", false).
		Set("created_at", d.CreatedAt).
		Set("updated_at", d.UpdatedAt)
}

func itemRow(it model.DeliveryItem) *database.Row {
	return database.NewRow("delivery_items").
		Set("id", it.ID).
		Set("delivery_id", it.DeliveryID).
		Set("product_id", it.ProductID).
		Set("quantity", it.Quantity).
		Set("unit_price", it.UnitPrice).
		Set("total_price", it.TotalPrice)
}

func getDelivery(ctx context.Context, q database.Execer, id string) (*model.Delivery, error) {
	var d model.Delivery
	var shiftID, ext, customer, address, phone, method sql.NullString
	var channel, status, total string
	var created, updated database.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, branch_id, shift_id, channel, external_order_id, customer_name, address, phone,
		       status, total, payment_method, created_at, updated_at
		FROM deliveries WHERE id = ?`, id).
		Scan(&d.ID, &d.BranchID, &shiftID, &channel, &ext, &customer, &address, &phone,
			&status, &total, &method, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d.ShiftID = shiftID.String
	d.Channel = model.SaleChannel(channel)
	d.ExternalOrderID = ext.String
	d.CustomerName = customer.String
	d.Address = address.String
	d.Phone = phone.String
	d.Status = model.DeliveryStatus(status)
	d.PaymentMethod = model.PaymentMethod(method.String)
	d.CreatedAt = created.Time
	d.UpdatedAt = updated.Time
	if d.Total, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, delivery_id, product_id, quantity, unit_price, total_price
		FROM delivery_items WHERE delivery_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it model.DeliveryItem
		var unit, line string
		if err := rows.Scan(&it.ID, &it.DeliveryID, &it.ProductID, &it.Quantity, &unit, &line); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unit); err != nil {
			return nil, err
		}
		if it.TotalPrice, err = decimal.NewFromString(line); err != nil {
			return nil, err
		}
		d.Items = append(d.Items, it)
	}
	return &d, rows.Err()
}
