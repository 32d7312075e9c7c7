package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/model"
)

const selectProducts = `
	SELECT id, name, price, category, active, image_ref, stock_quantity, updated_at, last_synced_at
	FROM products`

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]model.Product, error) {
	query := selectProducts
	if activeOnly {
		query += ` WHERE active = 1`
	}
	rows, err := s.db.DB.QueryContext(ctx, query+` ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	return getProduct(ctx, s.db.DB, id)
}

func getProduct(ctx context.Context, q database.Execer, id string) (*model.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, selectProducts+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(sc scanner) (*model.Product, error) {
	var p model.Product
	var price string
	var category, image sql.NullString
	var stock sql.NullInt64
	var updated, synced database.NullTime
	if err := sc.Scan(&p.ID, &p.Name, &price, &category, &p.Active, &image, &stock, &updated, &synced); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("product %s price %q: %w", p.ID, price, err)
	}
	p.Price = d
	p.Category = category.String
	p.ImageRef = image.String
	if stock.Valid {
		n := int(stock.Int64)
		p.Stock = &n
	}
	p.UpdatedAt = updated.Time
	p.LastSyncedAt = synced.Ptr()
	return &p, nil
}

// priceLines resolves catalog prices for new order or sale lines. Inactive or
// unknown products are rejected.
func priceLines(ctx context.Context, q database.Execer, items []model.ReservationItem) ([]lineItem, error) {
	lines := make([]lineItem, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidInput, it.ProductID)
		}
		p, err := getProduct(ctx, q, it.ProductID)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductInactive, p.ID)
		}
		lines = append(lines, lineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
	}
	return lines, nil
}

// lineItem is a priced line shared by orders, sales and deliveries.
type lineItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l lineItem) Total() decimal.Decimal {
	return model.LineTotal(l.UnitPrice, l.Quantity)
}

func linesTotal(lines []lineItem) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}
