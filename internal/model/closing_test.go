package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeClosing(t *testing.T) {
	siigo := SiigoClosing{
		DocumentPrefix: "FV",
		CostCenter:     "001",
		Denominations: []Denomination{
			{Value: decimal.NewFromInt(50000), Count: 1},
			{Value: decimal.NewFromInt(1000), Count: 5},
		},
		VoucherTotal: decimal.NewFromInt(12000),
	}

	raw, err := EncodeClosing(siigo)
	require.NoError(t, err)
	assert.Contains(t, raw, `"kind":"siigo"`)

	back, err := DecodeClosing(raw)
	require.NoError(t, err)
	got, ok := back.(SiigoClosing)
	require.True(t, ok, "decoded %T", back)
	assert.Equal(t, "FV", got.DocumentPrefix)
	assert.True(t, got.CountedTotal().Equal(decimal.NewFromInt(55000)))
}

func TestDecodeClosing_Empty(t *testing.T) {
	m, err := DecodeClosing("")
	require.NoError(t, err)
	assert.Nil(t, m)

	raw, err := EncodeClosing(nil)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestDecodeClosing_UnknownKind(t *testing.T) {
	_, err := DecodeClosing(`{"kind":"ledger","data":{}}`)
	assert.ErrorIs(t, err, ErrUnknownClosingKind)
}

func TestClosingInput_Validates(t *testing.T) {
	in := &ClosingInput{Kind: ClosingSiigo, Data: json.RawMessage(`{"cost_center":"002"}`)}
	_, err := in.Metadata()
	assert.ErrorContains(t, err, "document_prefix")

	in = &ClosingInput{Kind: ClosingSimple, Data: json.RawMessage(`{"notes":"ok","card_total":"30000"}`)}
	m, err := in.Metadata()
	require.NoError(t, err)
	assert.Equal(t, ClosingSimple, m.Kind())

	var none *ClosingInput
	m, err = none.Metadata()
	require.NoError(t, err)
	assert.Nil(t, m)
}
