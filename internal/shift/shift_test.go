package shift

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/database/dbtest"
	"pos-sync-terminal/internal/model"
)

func openReq(terminal string, cash int64) OpenRequest {
	return OpenRequest{BranchID: "b-1", OperatorID: "op-1", TerminalID: terminal, InitialCash: decimal.NewFromInt(cash)}
}

func TestOpen_OneOpenShiftPerTerminal(t *testing.T) {
	db := dbtest.Open(t)
	m := NewManager(db)
	ctx := context.Background()

	s, err := m.Open(ctx, openReq("t-1", 50000))
	require.NoError(t, err)
	assert.Equal(t, model.ShiftOpen, s.Status)

	_, err = m.Open(ctx, openReq("t-1", 10000))
	assert.ErrorIs(t, err, ErrShiftAlreadyOpen)

	_, err = m.Open(ctx, openReq("t-2", 0))
	assert.NoError(t, err, "another terminal may open its own shift")

	// The partial unique index holds even if the pre-check is bypassed.
	_, err = db.DB.ExecContext(ctx, `INSERT INTO shifts (id, branch_id, operator_id, terminal_id, started_at, initial_cash, status)
		VALUES ('dup', 'b-1', 'op-1', 't-1', '2026-01-01T00:00:00Z', '0', 'open')`)
	assert.ErrorContains(t, err, "UNIQUE")

	assert.Equal(t, 2, dbtest.Count(t, db, `SELECT COUNT(*) FROM sync_transactions`))
}

func TestOpen_RejectsNegativeCash(t *testing.T) {
	m := NewManager(dbtest.Open(t))
	_, err := m.Open(context.Background(), openReq("t-1", -1))
	assert.ErrorIs(t, err, ErrInvalidCash)
}

func TestCurrent(t *testing.T) {
	db := dbtest.Open(t)
	m := NewManager(db)
	ctx := context.Background()

	_, err := m.Current(ctx, "t-1")
	assert.ErrorIs(t, err, ErrNoOpenShift)
	assert.True(t, IsRetryable(err))

	s, err := m.Open(ctx, openReq("t-1", 1000))
	require.NoError(t, err)

	sc, err := m.Current(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, sc.ShiftID)
	assert.Equal(t, "b-1", sc.BranchID)
	assert.Equal(t, "op-1", sc.OperatorID)
}

func TestRequireOpenTx(t *testing.T) {
	db := dbtest.Open(t)
	m := NewManager(db)
	ctx := context.Background()

	s, err := m.Open(ctx, openReq("t-1", 0))
	require.NoError(t, err)

	check := func(id string) error {
		return db.ExecTx(ctx, func(tx *sql.Tx) error { return RequireOpenTx(ctx, tx, id) })
	}

	assert.NoError(t, check(s.ID))
	assert.ErrorIs(t, check("missing"), ErrShiftNotFound)
	assert.False(t, IsRetryable(check("missing")))

	_, err = m.Close(ctx, s.ID, decimal.Zero, nil)
	require.NoError(t, err)

	err = check(s.ID)
	assert.ErrorIs(t, err, ErrShiftNotOpen)
	assert.True(t, IsRetryable(err))
}

func TestClose_ComputesExpectedCash(t *testing.T) {
	db := dbtest.Open(t)
	m := NewManager(db)
	ctx := context.Background()

	s, err := m.Open(ctx, openReq("t-1", 50000))
	require.NoError(t, err)

	dbtest.Exec(t, db,
		`INSERT INTO sales (id, branch_id, shift_id, operator_id, total_amount, cash_amount, payment_method, status, created_at)
		 VALUES ('s-1', 'b-1', '`+s.ID+`', 'op-1', '5000', '5000', 'cash', 'completed', '2026-01-01T10:00:00Z')`,
		`INSERT INTO sales (id, branch_id, shift_id, operator_id, total_amount, cash_amount, payment_method, status, created_at)
		 VALUES ('s-2', 'b-1', '`+s.ID+`', 'op-1', '12000', '2000', 'mixed', 'completed', '2026-01-01T10:05:00Z')`,
		`INSERT INTO sales (id, branch_id, shift_id, operator_id, total_amount, payment_method, status, created_at)
		 VALUES ('s-3', 'b-1', '`+s.ID+`', 'op-1', '8000', 'card', 'completed', '2026-01-01T10:10:00Z')`,
		`INSERT INTO sales (id, branch_id, shift_id, operator_id, total_amount, payment_method, status, created_at)
		 VALUES ('s-4', 'b-1', '`+s.ID+`', 'op-1', '9999', 'cash', 'voided', '2026-01-01T10:15:00Z')`,
		`INSERT INTO expenses (id, shift_id, branch_id, operator_id, amount, payment_method, created_at)
		 VALUES ('e-1', '`+s.ID+`', 'b-1', 'op-1', '3000', 'cash', '2026-01-01T11:00:00Z')`,
		`INSERT INTO expenses (id, shift_id, branch_id, operator_id, amount, payment_method, created_at)
		 VALUES ('e-2', '`+s.ID+`', 'b-1', 'op-1', '4000', 'transfer', '2026-01-01T11:00:00Z')`,
		`INSERT INTO tip_distributions (id, shift_id, employee_id, amount, payment_method, created_at)
		 VALUES ('tip-1', '`+s.ID+`', 'emp-1', '1500', 'cash', '2026-01-01T12:00:00Z')`,
	)

	meta := model.SimpleClosing{Notes: "ok", CardTotal: decimal.NewFromInt(8000)}
	res, err := m.Close(ctx, s.ID, decimal.NewFromInt(53000), meta)
	require.NoError(t, err)

	// 50000 + 5000 + 2000 - 3000
	assert.True(t, res.Expected.Equal(decimal.NewFromInt(54000)), "expected %s", res.Expected)
	assert.True(t, res.Difference.Equal(decimal.NewFromInt(-1000)), "difference %s", res.Difference)
	assert.Equal(t, model.ShiftClosed, res.Shift.Status)

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShiftClosed, stored.Status)
	require.NotNil(t, stored.EndedAt)
	require.NotNil(t, stored.ExpectedCash)
	assert.True(t, stored.ExpectedCash.Equal(decimal.NewFromInt(54000)))
	closing, ok := stored.ClosingMetadata.(model.SimpleClosing)
	require.True(t, ok)
	assert.Equal(t, "ok", closing.Notes)

	sum, err := m.Summary(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.SalesCount)
	assert.True(t, sum.SalesTotal.Equal(decimal.NewFromInt(25000)))
	assert.True(t, sum.SalesByMethod[model.PaymentCard].Equal(decimal.NewFromInt(8000)))
	assert.True(t, sum.CashSales.Equal(decimal.NewFromInt(7000)))
	assert.True(t, sum.ExpensesTotal.Equal(decimal.NewFromInt(7000)))
	assert.True(t, sum.TipsTotal.Equal(decimal.NewFromInt(1500)))
	require.NotNil(t, sum.Difference)
	assert.True(t, sum.Difference.Equal(decimal.NewFromInt(-1000)))

	_, err = m.Close(ctx, s.ID, decimal.Zero, nil)
	assert.ErrorIs(t, err, ErrShiftNotOpen)
}

func TestClose_RejectsInvalidMetadata(t *testing.T) {
	db := dbtest.Open(t)
	m := NewManager(db)
	ctx := context.Background()

	s, err := m.Open(ctx, openReq("t-1", 0))
	require.NoError(t, err)

	_, err = m.Close(ctx, s.ID, decimal.Zero, model.SiigoClosing{})
	assert.ErrorContains(t, err, "document_prefix")

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ShiftOpen, stored.Status)
}
