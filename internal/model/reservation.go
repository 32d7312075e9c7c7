package model

import "time"

type SourceType string

const (
	SourceOrder    SourceType = "order"
	SourceDelivery SourceType = "delivery"
	SourceRappi    SourceType = "rappi"
)

func (s SourceType) Valid() bool {
	return s == SourceOrder || s == SourceDelivery || s == SourceRappi
}

// SourceRef identifies the in-flight order or delivery that owns stock holds.
type SourceRef struct {
	Type SourceType `json:"source_type"`
	ID   string     `json:"source_id"`
}

type Reservation struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Quantity   int        `json:"quantity"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type ReservationItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

// StockMovement is the append-only record a confirmed reservation turns into.
type StockMovement struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	Quantity   int        `json:"quantity"`
	Reason     string     `json:"reason"`
	SourceType SourceType `json:"source_type,omitempty"`
	SourceID   string     `json:"source_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
