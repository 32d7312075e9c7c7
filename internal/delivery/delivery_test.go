package delivery

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/database"
	"pos-sync-terminal/internal/database/dbtest"
	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/reservation"
	"pos-sync-terminal/internal/shift"
	"pos-sync-terminal/internal/store"
)

func setup(t *testing.T) (*database.Database, *Service, shift.Context) {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.Exec(t, db,
		`INSERT INTO products (id, name, price, active, stock_quantity) VALUES ('p-x', 'Pandebono', '2500', 1, 20)`,
		`INSERT INTO products (id, name, price, active) VALUES ('p-y', 'Avena', '3000', 1)`,
	)
	m := shift.NewManager(db)
	ctx := context.Background()
	_, err := m.Open(ctx, shift.OpenRequest{BranchID: "b-1", OperatorID: "op-1", TerminalID: "t-1", InitialCash: decimal.Zero})
	require.NoError(t, err)
	sc, err := m.Current(ctx, "t-1")
	require.NoError(t, err)
	return db, NewService(db), sc
}

func TestNaturalKey(t *testing.T) {
	assert.Equal(t, "Rappi #88231", NaturalKey(&model.Delivery{ID: "abcdef123456", Channel: model.ChannelRappi, ExternalOrderID: "88231"}))
	assert.Equal(t, "Domicilio abcdef12", NaturalKey(&model.Delivery{ID: "abcdef123456", Channel: model.ChannelDelivery}))
	assert.Equal(t, "Domicilio short", NaturalKey(&model.Delivery{ID: "short", Channel: model.ChannelRappi}))
}

func TestMarkDelivered_Twice_CreatesOneSale(t *testing.T) {
	db, svc, sc := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, sc, CreateInput{
		Channel:         model.ChannelRappi,
		ExternalOrderID: "88231",
		Items:           []ItemInput{{ProductID: "p-x", Quantity: 2}, {ProductID: "p-y", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, d.Total.Equal(decimal.NewFromInt(8000)))

	first, created, err := svc.MarkDelivered(ctx, sc, d.ID, store.Payment{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.PaymentRappi, first.PaymentMethod)
	assert.Equal(t, "Rappi #88231", first.Notes)
	assert.Equal(t, model.ChannelRappi, first.Channel)

	second, created, err := svc.MarkDelivered(ctx, sc, d.ID, store.Payment{})
	require.NoError(t, err)
	assert.False(t, created, "second confirmation must skip sale creation")
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM sales`))
	assert.Equal(t, 2, dbtest.Count(t, db,
		`SELECT COUNT(*) FROM sync_operations WHERE table_name = 'deliveries' AND op = 'update'`),
		"both confirmations update the delivery status")
	assert.Equal(t, 2, dbtest.Count(t, db, `SELECT COUNT(*) FROM stock_movements`),
		"holds are confirmed once")

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.Status)

	_, err = svc.Cancel(ctx, d.ID)
	assert.ErrorIs(t, err, ErrAlreadyDelivered)
}

func TestMarkDelivered_PrefixExternalIDsAreDistinct(t *testing.T) {
	db, svc, sc := setup(t)
	ctx := context.Background()

	long, err := svc.Create(ctx, sc, CreateInput{Channel: model.ChannelRappi, ExternalOrderID: "123",
		Items: []ItemInput{{ProductID: "p-y", Quantity: 1}}})
	require.NoError(t, err)
	short, err := svc.Create(ctx, sc, CreateInput{Channel: model.ChannelRappi, ExternalOrderID: "12",
		Items: []ItemInput{{ProductID: "p-y", Quantity: 1}}})
	require.NoError(t, err)

	first, created, err := svc.MarkDelivered(ctx, sc, long.ID, store.Payment{Notes: "sin salsa"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Rappi #123 - sin salsa", first.Notes)

	second, created, err := svc.MarkDelivered(ctx, sc, short.ID, store.Payment{})
	require.NoError(t, err)
	assert.True(t, created, "Rappi #12 must not match the sale of Rappi #123")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, dbtest.Count(t, db, `SELECT COUNT(*) FROM sales`))

	again, created, err := svc.MarkDelivered(ctx, sc, long.ID, store.Payment{})
	require.NoError(t, err)
	assert.False(t, created, "key followed by free-text notes still matches")
	assert.Equal(t, first.ID, again.ID)
}

func TestMarkDelivered_HomeDeliveryWithCash(t *testing.T) {
	db, svc, sc := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, sc, CreateInput{
		Channel: model.ChannelDelivery,
		Address: "Calle 10 # 4-20",
		Items:   []ItemInput{{ProductID: "p-x", Quantity: 4}},
	})
	require.NoError(t, err)

	sale, created, err := svc.MarkDelivered(ctx, sc, d.ID, store.Payment{Method: model.PaymentCash, Notes: "propina aparte"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Domicilio "+d.ID[:8]+" - propina aparte", sale.Notes)
	assert.True(t, sale.CashAmount.Equal(decimal.NewFromInt(10000)))

	_, created, err = svc.MarkDelivered(ctx, sc, d.ID, store.Payment{Method: model.PaymentCash})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, dbtest.Count(t, db, `SELECT COUNT(*) FROM sales`))
}

func TestCancel_ReleasesReservation(t *testing.T) {
	db, svc, sc := setup(t)
	ctx := context.Background()
	ledger := reservation.NewLedger(db)

	d, err := svc.Create(ctx, sc, CreateInput{
		Channel: model.ChannelDelivery,
		Items:   []ItemInput{{ProductID: "p-x", Quantity: 3}},
	})
	require.NoError(t, err)

	src := model.SourceRef{Type: model.SourceDelivery, ID: d.ID}
	held, err := ledger.GetReservations(ctx, src)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, 3, held[0].Quantity)

	released, err := svc.Cancel(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, released, 1)

	held, err = ledger.GetReservations(ctx, src)
	require.NoError(t, err)
	assert.Empty(t, held)
	reserved, err := ledger.Reserved(ctx, src)
	require.NoError(t, err)
	assert.Zero(t, reserved)

	released, err = svc.Cancel(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, released)

	_, _, err = svc.MarkDelivered(ctx, sc, d.ID, store.Payment{Method: model.PaymentCash})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestCreate_Validation(t *testing.T) {
	_, svc, sc := setup(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, sc, CreateInput{Channel: model.ChannelPOS, Items: []ItemInput{{ProductID: "p-x", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = svc.Create(ctx, sc, CreateInput{Channel: model.ChannelDelivery, Items: []ItemInput{{ProductID: "p-x", Quantity: 21}}})
	assert.ErrorIs(t, err, reservation.ErrInsufficientStock)

	_, err = svc.Create(ctx, sc, CreateInput{Channel: model.ChannelDelivery, Items: []ItemInput{{ProductID: "nope", Quantity: 1}}})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkDelivered_RequiresOpenShift(t *testing.T) {
	db, svc, sc := setup(t)
	ctx := context.Background()

	d, err := svc.Create(ctx, sc, CreateInput{Channel: model.ChannelDelivery, Items: []ItemInput{{ProductID: "p-y", Quantity: 1}}})
	require.NoError(t, err)

	_, err = shift.NewManager(db).Close(ctx, sc.ShiftID, decimal.Zero, nil)
	require.NoError(t, err)

	_, _, err = svc.MarkDelivered(ctx, sc, d.ID, store.Payment{Method: model.PaymentCard})
	assert.ErrorIs(t, err, shift.ErrShiftNotOpen)
	assert.Zero(t, dbtest.Count(t, db, `SELECT COUNT(*) FROM sales`))
}
