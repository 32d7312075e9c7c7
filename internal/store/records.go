package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/queue"
	"pos-sync-terminal/internal/shift"
)

type ExpenseInput struct {
	Amount        decimal.Decimal     `json:"amount"`
	Category      string              `json:"category,omitempty"`
	Description   string              `json:"description,omitempty"`
	PaymentMethod model.PaymentMethod `json:"payment_method,omitempty"`
}

type TipInput struct {
	EmployeeID    string              `json:"employee_id" validate:"required"`
	Amount        decimal.Decimal     `json:"amount"`
	PaymentMethod model.PaymentMethod `json:"payment_method,omitempty"`
	Notes         string              `json:"notes,omitempty"`
}

// CreateExpense records an append-only expense against an open shift.
func (s *Store) CreateExpense(ctx context.Context, sc shift.Context, in ExpenseInput) (*model.Expense, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: expense amount must be positive", ErrInvalidInput)
	}
	method, err := defaultMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	e := &model.Expense{
		ID:            uuid.NewString(),
		ShiftID:       sc.ShiftID,
		BranchID:      sc.BranchID,
		OperatorID:    sc.OperatorID,
		Amount:        in.Amount,
		Category:      in.Category,
		Description:   in.Description,
		PaymentMethod: method,
		CreatedAt:     time.Now().UTC(),
	}
	row := database.NewRow("expenses").
		Set("id", e.ID).
		Set("shift_id", e.ShiftID).
		Set("branch_id", e.BranchID).
		Set("operator_id", e.OperatorID).
		Set("amount", e.Amount).
		Set("category", e.Category).
		Set("description", e.Description).
		Set("payment_method", string(e.PaymentMethod)).
		Set("synced", false).
		Set("created_at", e.CreatedAt)

	if err := s.insertGated(ctx, sc.ShiftID, row); err != nil {
		return nil, err
	}
	return e, nil
}

// CreateTipDistribution records a tip payout against an open shift.
func (s *Store) CreateTipDistribution(ctx context.Context, sc shift.Context, in TipInput) (*model.TipDistribution, error) {
	if in.EmployeeID == "" || !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: tip needs an employee and a positive amount", ErrInvalidInput)
	}
	method, err := defaultMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	tip := &model.TipDistribution{
		ID:            uuid.NewString(),
		ShiftID:       sc.ShiftID,
		EmployeeID:    in.EmployeeID,
		Amount:        in.Amount,
		PaymentMethod: method,
		Notes:         in.Notes,
		CreatedAt:     time.Now().UTC(),
	}
	row := database.NewRow("tip_distributions").
		Set("id", tip.ID).
		Set("shift_id", tip.ShiftID).
		Set("employee_id", tip.EmployeeID).
		Set("amount", tip.Amount).
		Set("payment_method", string(tip.PaymentMethod)).
		Set("notes", tip.Notes).
		Set("synced", false).
		Set("created_at", tip.CreatedAt)

	if err := s.insertGated(ctx, sc.ShiftID, row); err != nil {
		return nil, err
	}
	return tip, nil
}

func (s *Store) insertGated(ctx context.Context, shiftID string, row *database.Row) error {
	return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := shift.RequireOpenTx(ctx, tx, shiftID); err != nil {
			return err
		}
		if err := row.Insert(ctx, tx); err != nil {
			return err
		}
		_, err := queue.Enqueue(ctx, tx, queue.Insert(row))
		return err
	})
}

func defaultMethod(m model.PaymentMethod) (model.PaymentMethod, error) {
	if m == "" {
		return model.PaymentCash, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("%w: payment method %q", ErrInvalidInput, m)
	}
	return m, nil
}
