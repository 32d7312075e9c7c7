package shift

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/model"
)

// Summary is the till report for one shift.
type Summary struct {
	Shift         *model.Shift                            `json:"shift"`
	SalesCount    int                                     `json:"sales_count"`
	SalesTotal    decimal.Decimal                         `json:"sales_total"`
	SalesByMethod map[model.PaymentMethod]decimal.Decimal `json:"sales_by_method"`
	CashSales     decimal.Decimal                         `json:"cash_sales"`
	ExpensesTotal decimal.Decimal                         `json:"expenses_total"`
	CashExpenses  decimal.Decimal                         `json:"cash_expenses"`
	TipsTotal     decimal.Decimal                         `json:"tips_total"`
	ExpectedCash  decimal.Decimal                         `json:"expected_cash"`
	Difference    *decimal.Decimal                        `json:"difference,omitempty"`
}

type totals struct {
	salesCount    int
	salesTotal    decimal.Decimal
	byMethod      map[model.PaymentMethod]decimal.Decimal
	cashSales     decimal.Decimal
	expensesTotal decimal.Decimal
	cashExpenses  decimal.Decimal
	tipsTotal     decimal.Decimal
}

func (m *Manager) Summary(ctx context.Context, shiftID string) (*Summary, error) {
	s, err := getShift(ctx, m.db.DB, shiftID)
	if err != nil {
		return nil, err
	}
	t, err := cashTotals(ctx, m.db.DB, shiftID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		Shift:         s,
		SalesCount:    t.salesCount,
		SalesTotal:    t.salesTotal,
		SalesByMethod: t.byMethod,
		CashSales:     t.cashSales,
		ExpensesTotal: t.expensesTotal,
		CashExpenses:  t.cashExpenses,
		TipsTotal:     t.tipsTotal,
		ExpectedCash:  ExpectedCash(s.InitialCash, t.cashSales, t.cashExpenses),
	}
	if s.ExpectedCash != nil {
		sum.ExpectedCash = *s.ExpectedCash
	}
	if s.FinalCash != nil {
		d := s.FinalCash.Sub(sum.ExpectedCash)
		sum.Difference = &d
	}
	return sum, nil
}

func cashTotals(ctx context.Context, q database.Execer, shiftID string) (totals, error) {
	t := totals{byMethod: make(map[model.PaymentMethod]decimal.Decimal)}

	cols, err := database.SelectColumns(ctx, q, "sales", "payment_method", "total_amount", "cash_amount")
	if err != nil {
		return t, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+cols+` FROM sales
		WHERE shift_id = ? AND status = 'completed'`, shiftID)
	if err != nil {
		return t, fmt.Errorf("sum sales: %w", err)
	}
	for rows.Next() {
		var method, total string
		var cash sql.NullString
		if err := rows.Scan(&method, &total, &cash); err != nil {
			rows.Close()
			return t, err
		}
		amount, err := decimal.NewFromString(total)
		if err != nil {
			rows.Close()
			return t, fmt.Errorf("sale total %q: %w", total, err)
		}
		pm := model.PaymentMethod(method)
		t.salesCount++
		t.salesTotal = t.salesTotal.Add(amount)
		t.byMethod[pm] = t.byMethod[pm].Add(amount)

		switch {
		case cash.Valid && cash.String != "":
			c, err := decimal.NewFromString(cash.String)
			if err != nil {
				rows.Close()
				return t, fmt.Errorf("sale cash amount %q: %w", cash.String, err)
			}
			t.cashSales = t.cashSales.Add(c)
		case pm == model.PaymentCash:
			t.cashSales = t.cashSales.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return t, err
	}
	rows.Close()

	if err := sumAmounts(ctx, q, `SELECT amount, payment_method FROM expenses WHERE shift_id = ?`, shiftID,
		&t.expensesTotal, &t.cashExpenses); err != nil {
		return t, fmt.Errorf("sum expenses: %w", err)
	}
	var cashTips decimal.Decimal
	if err := sumAmounts(ctx, q, `SELECT amount, payment_method FROM tip_distributions WHERE shift_id = ?`, shiftID,
		&t.tipsTotal, &cashTips); err != nil {
		return t, fmt.Errorf("sum tips: %w", err)
	}
	return t, nil
}

func sumAmounts(ctx context.Context, q database.Execer, query, shiftID string, total, cash *decimal.Decimal) error {
	rows, err := q.QueryContext(ctx, query, shiftID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var amount, method string
		if err := rows.Scan(&amount, &method); err != nil {
			return err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("amount %q: %w", amount, err)
		}
		*total = total.Add(d)
		if model.PaymentMethod(method) == model.PaymentCash {
			*cash = cash.Add(d)
		}
	}
	return rows.Err()
}
