package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentRappi    PaymentMethod = "rappi"
	PaymentMixed    PaymentMethod = "mixed"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentRappi, PaymentMixed:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleCompleted SaleStatus = "completed"
	SaleVoided    SaleStatus = "voided"
	SalePending   SaleStatus = "pending"
)

type SaleChannel string

const (
	ChannelPOS      SaleChannel = "pos"
	ChannelDelivery SaleChannel = "delivery"
	ChannelRappi    SaleChannel = "rappi"
	ChannelWeb      SaleChannel = "web"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "open"
	ShiftClosed ShiftStatus = "closed"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDispatched DeliveryStatus = "dispatched"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryCancelled  DeliveryStatus = "cancelled"
)

// Product is the local mirror of a catalog row. Stock is nil when the product
// is not stock-tracked.
type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Category     string          `json:"category,omitempty"`
	Active       bool            `json:"active"`
	ImageRef     string          `json:"image_ref,omitempty"`
	Stock        *int            `json:"stock_quantity,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastSyncedAt *time.Time      `json:"last_synced_at,omitempty"`
}

type Shift struct {
	ID              string           `json:"id"`
	BranchID        string           `json:"branch_id"`
	OperatorID      string           `json:"operator_id"`
	TerminalID      string           `json:"terminal_id"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	InitialCash     decimal.Decimal  `json:"initial_cash"`
	FinalCash       *decimal.Decimal `json:"final_cash,omitempty"`
	ExpectedCash    *decimal.Decimal `json:"expected_cash,omitempty"`
	Status          ShiftStatus      `json:"status"`
	ClosingMetadata ClosingMetadata  `json:"-"`
	Synced          bool             `json:"synced"`
}

type Order struct {
	ID           string          `json:"id"`
	TableID      string          `json:"table_id,omitempty"`
	ShiftID      string          `json:"shift_id"`
	BranchID     string          `json:"branch_id"`
	OperatorID   string          `json:"operator_id"`
	CustomerName string          `json:"customer_name,omitempty"`
	Status       OrderStatus     `json:"status"`
	Total        decimal.Decimal `json:"total"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Synced       bool            `json:"synced"`
	Items        []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// Sale is append-only: created once per completed transaction.
type Sale struct {
	ID            string          `json:"id"`
	BranchID      string          `json:"branch_id"`
	ShiftID       string          `json:"shift_id,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	ClientID      string          `json:"client_id,omitempty"`
	OperatorID    string          `json:"operator_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	CashAmount    decimal.Decimal `json:"cash_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Status        SaleStatus      `json:"status"`
	Channel       SaleChannel     `json:"channel"`
	Notes         string          `json:"notes,omitempty"`
	Synced        bool            `json:"synced"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []SaleItem      `json:"items"`
}

// SaleItem is a price snapshot independent of later catalog changes.
type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type Expense struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	BranchID      string          `json:"branch_id"`
	OperatorID    string          `json:"operator_id"`
	Amount        decimal.Decimal `json:"amount"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Synced        bool            `json:"synced"`
	CreatedAt     time.Time       `json:"created_at"`
}

type TipDistribution struct {
	ID            string          `json:"id"`
	ShiftID       string          `json:"shift_id"`
	EmployeeID    string          `json:"employee_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Notes         string          `json:"notes,omitempty"`
	Synced        bool            `json:"synced"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Delivery struct {
	ID              string          `json:"id"`
	BranchID        string          `json:"branch_id"`
	ShiftID         string          `json:"shift_id,omitempty"`
	Channel         SaleChannel     `json:"channel"`
	ExternalOrderID string          `json:"external_order_id,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	Address         string          `json:"address,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Status          DeliveryStatus  `json:"status"`
	Total           decimal.Decimal `json:"total"`
	PaymentMethod   PaymentMethod   `json:"payment_method,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []DeliveryItem  `json:"items"`
}

type DeliveryItem struct {
	ID         string          `json:"id"`
	DeliveryID string          `json:"delivery_id"`
	ProductID  string          `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// LineTotal is unit price times quantity.
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}
