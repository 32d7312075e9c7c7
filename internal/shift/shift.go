package shift

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
)

var (
	ErrShiftNotFound    = errors.New("shift not found")
	ErrShiftNotOpen     = errors.New("shift is not open")
	ErrShiftAlreadyOpen = errors.New("terminal already has an open shift")
	ErrNoOpenShift      = errors.New("no open shift on this terminal")
	ErrInvalidCash      = errors.New("cash amount must not be negative")
)

// IsRetryable reports whether the caller should re-resolve its shift context
// and try again. A shift closed underneath an in-flight write is retryable; a
// shift that never existed is not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrShiftNotOpen) || errors.Is(err, ErrNoOpenShift)
}

// Context is the shift a UI action runs against. It is resolved once per
// action with Current and passed explicitly to every write that needs it.
type Context struct {
	ShiftID    string    `json:"shift_id"`
	BranchID   string    `json:"branch_id"`
	OperatorID string    `json:"operator_id"`
	TerminalID string    `json:"terminal_id"`
	StartedAt  time.Time `json:"started_at"`
}

type OpenRequest struct {
	BranchID    string          `json:"branch_id" validate:"required"`
	OperatorID  string          `json:"operator_id" validate:"required"`
	TerminalID  string          `json:"terminal_id"`
	InitialCash decimal.Decimal `json:"initial_cash"`
}

// CloseResult is the reconciliation computed at close.
type CloseResult struct {
	Shift      *model.Shift    `json:"shift"`
	Expected   decimal.Decimal `json:"expected_cash"`
	Counted    decimal.Decimal `json:"counted_cash"`
	Difference decimal.Decimal `json:"difference"`
}

type Manager struct {
	db *database.Database
}

func NewManager(db *database.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) Open(ctx context.Context, req OpenRequest) (*model.Shift, error) {
	if req.BranchID == "" || req.OperatorID == "" || req.TerminalID == "" {
		return nil, errors.New("branch, operator and terminal are required to open a shift")
	}
	if req.InitialCash.IsNegative() {
		return nil, ErrInvalidCash
	}

	now := time.Now().UTC()
	s := &model.Shift{
		ID:          uuid.NewString(),
		BranchID:    req.BranchID,
		OperatorID:  req.OperatorID,
		TerminalID:  req.TerminalID,
		StartedAt:   now,
		InitialCash: req.InitialCash,
		Status:      model.ShiftOpen,
	}

	err := m.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var open int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM shifts WHERE terminal_id = ? AND status = 'open'`, req.TerminalID).Scan(&open); err != nil {
			return err
		}
		if open > 0 {
			return ErrShiftAlreadyOpen
		}
		row, err := shiftRow(s, now)
		if err != nil {
			return err
		}
		local, err := row.Fit(ctx, tx)
		if err != nil {
			return err
		}
		if err := local.Insert(ctx, tx); err != nil {
			if isUniqueViolation(err) {
				return ErrShiftAlreadyOpen
			}
			return err
		}
		_, err = queue.Enqueue(ctx, tx, queue.Insert(row))
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("Shift opened",
		zap.String("shift_id", s.ID),
		zap.String("terminal_id", s.TerminalID),
		zap.String("initial_cash", s.InitialCash.String()),
	)
	return s, nil
}

// Current returns the most recently started open shift on the terminal.
func (m *Manager) Current(ctx context.Context, terminalID string) (Context, error) {
	var sc Context
	var started database.NullTime
	err := m.db.DB.QueryRowContext(ctx, `
		SELECT id, branch_id, operator_id, terminal_id, started_at
		FROM shifts WHERE terminal_id = ? AND status = 'open'
		ORDER BY started_at DESC LIMIT 1`, terminalID).
		Scan(&sc.ShiftID, &sc.BranchID, &sc.OperatorID, &sc.TerminalID, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNoOpenShift
	}
	if err != nil {
		return Context{}, fmt.Errorf("resolve current shift: %w", err)
	}
	sc.StartedAt = started.Time
	return sc, nil
}

func (m *Manager) Get(ctx context.Context, shiftID string) (*model.Shift, error) {
	return getShift(ctx, m.db.DB, shiftID)
}

// RequireOpenTx fails unless the shift exists and is still open. It runs on
// the caller's transaction so the check and the write commit together.
func RequireOpenTx(ctx context.Context, tx database.Execer, shiftID string) error {
	if shiftID == "" {
		return ErrShiftNotFound
	}
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM shifts WHERE id = ?`, shiftID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrShiftNotFound, shiftID)
	}
	if err != nil {
		return err
	}
	if model.ShiftStatus(status) != model.ShiftOpen {
		return fmt.Errorf("%w: %s", ErrShiftNotOpen, shiftID)
	}
	return nil
}

// Close counts the till and moves the shift to closed. A difference between
// counted and expected cash is recorded, never rejected.
func (m *Manager) Close(ctx context.Context, shiftID string, finalCash decimal.Decimal, meta model.ClosingMetadata) (*CloseResult, error) {
	if finalCash.IsNegative() {
		return nil, ErrInvalidCash
	}
	if meta != nil {
		if err := meta.Validate(); err != nil {
			return nil, err
		}
	}

	var result CloseResult
	err := m.db.ExecTx(ctx, func(tx *sql.Tx) error {
		if err := RequireOpenTx(ctx, tx, shiftID); err != nil {
			return err
		}
		s, err := getShift(ctx, tx, shiftID)
		if err != nil {
			return err
		}
		totals, err := cashTotals(ctx, tx, shiftID)
		if err != nil {
			return err
		}
		expected := ExpectedCash(s.InitialCash, totals.cashSales, totals.cashExpenses)

		now := time.Now().UTC()
		s.EndedAt = &now
		s.FinalCash = &finalCash
		s.ExpectedCash = &expected
		s.Status = model.ShiftClosed
		s.ClosingMetadata = meta
		s.Synced = false

		row, err := shiftRow(s, now)
		if err != nil {
			return err
		}
		local, err := row.Fit(ctx, tx)
		if err != nil {
			return err
		}
		if err := local.Upsert(ctx, tx); err != nil {
			return err
		}
		if _, err := queue.Enqueue(ctx, tx, queue.Update(row)); err != nil {
			return err
		}

		result = CloseResult{
			Shift:      s,
			Expected:   expected,
			Counted:    finalCash,
			Difference: finalCash.Sub(expected),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.L().With(zap.String("shift_id", shiftID))
	if result.Difference.IsZero() {
		log.Info("Shift closed", zap.String("expected_cash", result.Expected.String()))
	} else {
		log.Warn("Shift closed with cash difference",
			zap.String("expected_cash", result.Expected.String()),
			zap.String("counted_cash", result.Counted.String()),
			zap.String("difference", result.Difference.String()),
		)
	}
	return &result, nil
}

// ExpectedCash is initial cash plus cash sales minus cash expenses.
func ExpectedCash(initial, cashSales, cashExpenses decimal.Decimal) decimal.Decimal {
	return initial.Add(cashSales).Sub(cashExpenses)
}

func shiftRow(s *model.Shift, updatedAt time.Time) (*database.Row, error) {
	meta, err := model.EncodeClosing(s.ClosingMetadata)
	if err != nil {
		return nil, fmt.Errorf("encode closing metadata: %w", err)
	}
	return database.NewRow("shifts").
		Set("id", s.ID).
		Set("branch_id", s.BranchID).
		Set("operator_id", s.OperatorID).
		Set("terminal_id", s.TerminalID).
		Set("started_at", s.StartedAt).
		Set("ended_at", s.EndedAt).
		Set("initial_cash", s.InitialCash).
		Set("final_cash", s.FinalCash).
		Set("expected_cash", s.ExpectedCash).
		Set("status", string(s.Status)).
		Set("closing_metadata", meta).
		Set("synced", s.Synced).
		Set("updated_at", updatedAt), nil
}

var shiftColumns = []string{
	"id", "branch_id", "operator_id", "terminal_id", "started_at", "ended_at",
	"initial_cash", "final_cash", "expected_cash", "status", "closing_metadata", "synced",
}

func getShift(ctx context.Context, q database.Execer, shiftID string) (*model.Shift, error) {
	var s model.Shift
	var started, ended database.NullTime
	var initial string
	var final, expected, status, metaBlob sql.NullString
	var synced bool
	cols, err := database.SelectColumns(ctx, q, "shifts", shiftColumns...)
	if err != nil {
		return nil, err
	}
	err = q.QueryRowContext(ctx, `SELECT `+cols+` FROM shifts WHERE id = ?`, shiftID).
		Scan(&s.ID, &s.BranchID, &s.OperatorID, &s.TerminalID, &started, &ended,
			&initial, &final, &expected, &status, &metaBlob, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrShiftNotFound, shiftID)
	}
	if err != nil {
		return nil, err
	}

	s.StartedAt = started.Time
	s.EndedAt = ended.Ptr()
	s.Status = model.ShiftStatus(status.String)
	s.Synced = synced
	if s.InitialCash, err = decimal.NewFromString(initial); err != nil {
		return nil, fmt.Errorf("shift %s initial_cash: %w", shiftID, err)
	}
	if s.FinalCash, err = nullDecimal(final); err != nil {
		return nil, fmt.Errorf("shift %s final_cash: %w", shiftID, err)
	}
	if s.ExpectedCash, err = nullDecimal(expected); err != nil {
		return nil, fmt.Errorf("shift %s expected_cash: %w", shiftID, err)
	}
	if s.ClosingMetadata, err = model.DecodeClosing(metaBlob.String); err != nil {
		return nil, fmt.Errorf("shift %s: %w", shiftID, err)
	}
	return &s, nil
}

func nullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
