package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeBillCreated   = "BILL_CREATED"
	EventTypeRefundCreated = "REFUND_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BillCreatedEvent published when a sale is recorded
type BillCreatedEvent struct {
	BaseEvent
	BillID      int64           `json:"bill_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []StockLineData `json:"items"`
}

// RefundCreatedEvent published after a refund commits
type RefundCreatedEvent struct {
	BaseEvent
	RefundID   int64           `json:"refund_id"`
	BillID     int64           `json:"bill_id"`
	Amount     decimal.Decimal `json:"amount"`
	RefundType string          `json:"refund_type"`
	BillStatus string          `json:"bill_status"`
	RefundedBy int64           `json:"refunded_by"`
	Items      []StockLineData `json:"items"`
}

// StockLineData represents a part quantity carried in events
type StockLineData struct {
	PartID    int64           `json:"part_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
