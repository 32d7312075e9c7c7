package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type ClosingKind string

const (
	ClosingSimple ClosingKind = "simple"
	ClosingSiigo  ClosingKind = "siigo"
)

var ErrUnknownClosingKind = errors.New("unknown closing metadata kind")

// ClosingMetadata is attached to a shift when it closes. Exactly one of the
// concrete variants below implements it.
type ClosingMetadata interface {
	Kind() ClosingKind
	Validate() error
}

// SimpleClosing is the plain cash-count closing.
type SimpleClosing struct {
	Notes         string          `json:"notes,omitempty"`
	CardTotal     decimal.Decimal `json:"card_total"`
	TransferTotal decimal.Decimal `json:"transfer_total"`
}

func (SimpleClosing) Kind() ClosingKind { return ClosingSimple }

func (s SimpleClosing) Validate() error {
	if s.CardTotal.IsNegative() || s.TransferTotal.IsNegative() {
		return errors.New("simple closing: totals must not be negative")
	}
	return nil
}

// Denomination is one bill or coin line of a cash count.
type Denomination struct {
	Value decimal.Decimal `json:"value"`
	Count int             `json:"count"`
}

// SiigoClosing carries the accounting export fields plus the counted
// denominations.
type SiigoClosing struct {
	DocumentPrefix string          `json:"document_prefix"`
	CostCenter     string          `json:"cost_center"`
	Denominations  []Denomination  `json:"denominations"`
	VoucherTotal   decimal.Decimal `json:"voucher_total"`
	Notes          string          `json:"notes,omitempty"`
}

func (SiigoClosing) Kind() ClosingKind { return ClosingSiigo }

func (s SiigoClosing) Validate() error {
	if s.DocumentPrefix == "" {
		return errors.New("siigo closing: document_prefix is required")
	}
	for _, d := range s.Denominations {
		if d.Count < 0 || !d.Value.IsPositive() {
			return fmt.Errorf("siigo closing: invalid denomination %s x %d", d.Value, d.Count)
		}
	}
	if s.VoucherTotal.IsNegative() {
		return errors.New("siigo closing: voucher_total must not be negative")
	}
	return nil
}

// CountedTotal sums the denomination lines.
func (s SiigoClosing) CountedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, d := range s.Denominations {
		total = total.Add(LineTotal(d.Value, d.Count))
	}
	return total
}

type closingEnvelope struct {
	Kind ClosingKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeClosing serialises metadata as {"kind": ..., "data": ...}. Nil
// metadata encodes to an empty string.
func EncodeClosing(m ClosingMetadata) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(closingEnvelope{Kind: m.Kind(), Data: data})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func DecodeClosing(raw string) (ClosingMetadata, error) {
	if raw == "" {
		return nil, nil
	}
	var env closingEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode closing metadata: %w", err)
	}
	switch env.Kind {
	case ClosingSimple:
		var s SimpleClosing
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode simple closing: %w", err)
		}
		return s, nil
	case ClosingSiigo:
		var s SiigoClosing
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode siigo closing: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownClosingKind, env.Kind)
	}
}

// ClosingInput is the wire form accepted from callers before it is narrowed
// into a concrete variant.
type ClosingInput struct {
	Kind ClosingKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (in *ClosingInput) Metadata() (ClosingMetadata, error) {
	if in == nil || in.Kind == "" {
		return nil, nil
	}
	raw, err := json.Marshal(closingEnvelope{Kind: in.Kind, Data: in.Data})
	if err != nil {
		return nil, err
	}
	m, err := DecodeClosing(string(raw))
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
