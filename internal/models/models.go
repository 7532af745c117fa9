package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Part represents an inventory item with its stock counters
type Part struct {
	ID             int64           `db:"id" json:"id"`
	PartNumber     string          `db:"part_number" json:"part_number"`
	Name           string          `db:"name" json:"name"`
	Manufacturer   string          `db:"manufacturer" json:"manufacturer"`
	Price          decimal.Decimal `db:"price" json:"price"`
	AvailableStock int             `db:"available_stock" json:"available_stock"`
	SoldStock      int             `db:"sold_stock" json:"sold_stock"`
	ReservedStock  int             `db:"reserved_stock" json:"reserved_stock"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Bill represents a completed sale
type Bill struct {
	ID             int64           `db:"id" json:"id"`
	BillNumber     string          `db:"bill_number" json:"bill_number"`
	CustomerName   string          `db:"customer_name" json:"customer_name"`
	CustomerPhone  string          `db:"customer_phone" json:"customer_phone"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	RefundedAmount decimal.Decimal `db:"refunded_amount" json:"refunded_amount"`
	Status         string          `db:"status" json:"status"`
	CreatedBy      int64           `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// RemainingAmount is the amount that can still be refunded
func (b *Bill) RemainingAmount() decimal.Decimal {
	return b.TotalAmount.Sub(b.RefundedAmount)
}

// BillItem is one purchased line. Quantity and prices are frozen at creation.
type BillItem struct {
	ID               int64           `db:"id" json:"id"`
	BillID           int64           `db:"bill_id" json:"bill_id"`
	PartID           int64           `db:"part_id" json:"part_id"`
	Quantity         int             `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice       decimal.Decimal `db:"total_price" json:"total_price"`
	RefundedQuantity int             `db:"refunded_quantity" json:"refunded_quantity"`
	PartName         string          `db:"part_name" json:"part_name,omitempty"`
	Manufacturer     string          `db:"manufacturer" json:"manufacturer,omitempty"`
}

// RemainingQuantity is the billed quantity not yet refunded
func (bi *BillItem) RemainingQuantity() int {
	return bi.Quantity - bi.RefundedQuantity
}

// Refund is one refund transaction against a bill
type Refund struct {
	ID             int64           `db:"id" json:"id"`
	BillID         int64           `db:"bill_id" json:"bill_id"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Reason         string          `db:"reason" json:"reason"`
	Type           string          `db:"refund_type" json:"type"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	RefundedBy     int64           `db:"refunded_by" json:"refunded_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Items          []RefundItem    `db:"-" json:"items"`
}

// RefundItem is one refunded line within a refund
type RefundItem struct {
	ID           int64           `db:"id" json:"id"`
	RefundID     int64           `db:"refund_id" json:"refund_id"`
	PartID       int64           `db:"part_id" json:"part_id"`
	Quantity     int             `db:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	PartName     string          `db:"part_name" json:"part_name,omitempty"`
	Manufacturer string          `db:"manufacturer" json:"manufacturer,omitempty"`
}

// StockMovement is an append-only audit entry for a stock change
type StockMovement struct {
	ID                int64     `db:"id" json:"id"`
	PartID            int64     `db:"part_id" json:"part_id"`
	MovementType      string    `db:"movement_type" json:"movement_type"`
	Quantity          int       `db:"quantity" json:"quantity"`
	ReferenceType     string    `db:"reference_type" json:"reference_type"`
	ReferenceID       int64     `db:"reference_id" json:"reference_id"`
	PreviousAvailable int       `db:"previous_available" json:"previous_available"`
	NewAvailable      int       `db:"new_available" json:"new_available"`
	CreatedBy         int64     `db:"created_by" json:"created_by"`
	Notes             string    `db:"notes" json:"notes"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Bill statuses
const (
	BillStatusActive            = "active"
	BillStatusPartiallyRefunded = "partially_refunded"
	BillStatusRefunded          = "refunded"
)

// Refund types
const (
	RefundTypeFull    = "full"
	RefundTypePartial = "partial"
)

// Stock movement types and references
const (
	MovementTypeSale   = "sale"
	MovementTypeRefund = "refund"

	ReferenceTypeBill   = "bill"
	ReferenceTypeRefund = "refund"
)

// BillStatusFor derives a bill status from its total and refunded amounts
func BillStatusFor(total, refunded decimal.Decimal) string {
	switch {
	case refunded.IsZero():
		return BillStatusActive
	case refunded.GreaterThanOrEqual(total):
		return BillStatusRefunded
	default:
		return BillStatusPartiallyRefunded
	}
}
