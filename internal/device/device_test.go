package device

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync-terminal/internal/model"
	"pos-sync-terminal/internal/shift"
)

func TestMachineID_PersistsGeneratedID(t *testing.T) {
	saved := systemIDFiles
	systemIDFiles = nil
	t.Cleanup(func() { systemIDFiles = saved })

	path := filepath.Join(t.TempDir(), "profile", "machine-id")
	first, err := MachineID(path)
	require.NoError(t, err)
	assert.Len(t, first, 36)

	second, err := MachineID(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMachineID_AdoptsSystemID(t *testing.T) {
	dir := t.TempDir()
	sys := filepath.Join(dir, "etc-machine-id")
	require.NoError(t, os.WriteFile(sys, []byte("4f1c0ffee\n"), 0o600))

	saved := systemIDFiles
	systemIDFiles = []string{filepath.Join(dir, "missing"), sys}
	t.Cleanup(func() { systemIDFiles = saved })

	id, err := MachineID(filepath.Join(dir, "machine-id"))
	require.NoError(t, err)
	assert.Equal(t, "4f1c0ffee", id)
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := NewVault("machine-a")
	require.NoError(t, err)

	sealed, err := v.Encrypt("device-token")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "v1:"))
	assert.NotContains(t, sealed, "device-token")

	again, err := v.Encrypt("device-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "fresh nonce per value")

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "device-token", plain)

	other, err := NewVault("machine-b")
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = v.Decrypt("v1:not-base64!")
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = v.Decrypt("plain")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewVault(" ")
	assert.Error(t, err)
}

func TestPrinter_SpoolsDocuments(t *testing.T) {
	dir := t.TempDir()
	p := NewPrinter(filepath.Join(dir, "spool"), "Panadería La Espiga")
	p.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	sale := &model.Sale{
		ID: "sale-123456789", TotalAmount: decimal.NewFromInt(5000), PaymentMethod: model.PaymentCash,
		Notes: "Domicilio abcdef12",
		Items: []model.SaleItem{{ProductName: "Pandebono", Quantity: 2, TotalPrice: decimal.NewFromInt(5000)}},
	}
	path, err := p.PrintTicket(sale)
	require.NoError(t, err)
	assertPDF(t, path)
	assert.Equal(t, "ticket_sale-123456789.pdf", filepath.Base(path))

	order := &model.Order{ID: "o-1", TableID: "4", Items: []model.OrderItem{{ProductID: "p-1", Quantity: 3}}}
	path, err = p.PrintKitchenTicket(order)
	require.NoError(t, err)
	assertPDF(t, path)

	counted := decimal.NewFromInt(55000)
	diff := decimal.Zero
	ended := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	sum := &shift.Summary{
		Shift: &model.Shift{ID: "sh-1", InitialCash: decimal.NewFromInt(50000), FinalCash: &counted,
			StartedAt: ended.Add(-8 * time.Hour), EndedAt: &ended},
		SalesCount:    1,
		SalesTotal:    decimal.NewFromInt(5000),
		SalesByMethod: map[model.PaymentMethod]decimal.Decimal{model.PaymentCash: decimal.NewFromInt(5000)},
		ExpectedCash:  decimal.NewFromInt(55000),
		Difference:    &diff,
	}
	path, err = p.PrintClosingReport(sum)
	require.NoError(t, err)
	assertPDF(t, path)

	_, err = p.PrintClosingReport(&shift.Summary{})
	assert.Error(t, err)
}

func assertPDF(t *testing.T, path string) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "%PDF-"), path)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Pan", truncate("Pan", 5))
	assert.Equal(t, "Almo.", truncate("Almojábana", 5))
}
