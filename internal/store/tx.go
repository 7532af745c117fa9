package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parts-service/internal/models"

	"github.com/shopspring/decimal"
)

// LockBill reads a bill and locks its row until the transaction ends
func (t *Tx) LockBill(ctx context.Context, billID int64) (*models.Bill, error) {
	var bill models.Bill
	err := t.tx.GetContext(ctx, &bill,
		t.tx.Rebind("SELECT "+billColumns+" FROM bills WHERE id = ?"+t.store.forUpdate()), billID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrBillNotFound, billID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock bill: %w", classify(err))
	}
	return &bill, nil
}

// GetPart reads a part and locks its row until the transaction ends
func (t *Tx) GetPart(ctx context.Context, partID int64) (*models.Part, error) {
	var part models.Part
	err := t.tx.GetContext(ctx, &part,
		t.tx.Rebind("SELECT "+partColumns+" FROM parts WHERE id = ?"+t.store.forUpdate()), partID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPartNotFound, partID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock part: %w", classify(err))
	}
	return &part, nil
}

// GetBillItems retrieves the bill lines as seen by this transaction
func (t *Tx) GetBillItems(ctx context.Context, billID int64) ([]models.BillItem, error) {
	var items []models.BillItem
	err := t.tx.SelectContext(ctx, &items, t.tx.Rebind(`
		SELECT id, bill_id, part_id, quantity, unit_price, total_price, refunded_quantity
		FROM bill_items
		WHERE bill_id = ?
		ORDER BY id`), billID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill items: %w", classify(err))
	}
	return items, nil
}

// GetRefundByIdempotencyKey returns the refund stored under key, or nil
func (t *Tx) GetRefundByIdempotencyKey(ctx context.Context, key string) (*models.Refund, error) {
	refunds, err := loadRefunds(ctx, t.tx, "idempotency_key = ?", key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", classify(err))
	}
	if len(refunds) == 0 {
		return nil, nil
	}
	return &refunds[0], nil
}

// InsertBill creates a new bill
func (t *Tx) InsertBill(ctx context.Context, bill *models.Bill) error {
	now := time.Now().UTC()
	bill.CreatedAt, bill.UpdatedAt = now, now

	err := t.tx.GetContext(ctx, &bill.ID, t.tx.Rebind(`
		INSERT INTO bills (bill_number, customer_name, customer_phone, total_amount, refunded_amount, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		bill.BillNumber, bill.CustomerName, bill.CustomerPhone, bill.TotalAmount,
		bill.RefundedAmount, bill.Status, bill.CreatedBy, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert bill: %w", classify(err))
	}
	return nil
}

// InsertBillItem creates a bill line
func (t *Tx) InsertBillItem(ctx context.Context, item *models.BillItem) error {
	err := t.tx.GetContext(ctx, &item.ID, t.tx.Rebind(`
		INSERT INTO bill_items (bill_id, part_id, quantity, unit_price, total_price, refunded_quantity)
		VALUES (?, ?, ?, ?, ?, 0)
		RETURNING id`),
		item.BillID, item.PartID, item.Quantity, item.UnitPrice, item.TotalPrice)
	if err != nil {
		return fmt.Errorf("failed to insert bill item: %w", classify(err))
	}
	return nil
}

// InsertRefund creates a refund header
func (t *Tx) InsertRefund(ctx context.Context, refund *models.Refund) error {
	refund.CreatedAt = time.Now().UTC()

	err := t.tx.GetContext(ctx, &refund.ID, t.tx.Rebind(`
		INSERT INTO refunds (bill_id, amount, reason, refund_type, idempotency_key, refunded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		refund.BillID, refund.Amount, refund.Reason, refund.Type,
		refund.IdempotencyKey, refund.RefundedBy, refund.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", classify(err))
	}
	return nil
}

// InsertRefundItem creates a refund line
func (t *Tx) InsertRefundItem(ctx context.Context, item *models.RefundItem) error {
	err := t.tx.GetContext(ctx, &item.ID, t.tx.Rebind(`
		INSERT INTO refund_items (refund_id, part_id, quantity, unit_price, total_price)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		item.RefundID, item.PartID, item.Quantity, item.UnitPrice, item.TotalPrice)
	if err != nil {
		return fmt.Errorf("failed to insert refund item: %w", classify(err))
	}
	return nil
}

// AddRefundedQuantity bumps the refunded counter of a bill line. The update
// only applies while the counter stays within the billed quantity.
func (t *Tx) AddRefundedQuantity(ctx context.Context, billID, partID int64, quantity int) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE bill_items
		SET refunded_quantity = refunded_quantity + ?
		WHERE bill_id = ? AND part_id = ? AND refunded_quantity + ? <= quantity`),
		quantity, billID, partID, quantity)
	if err != nil {
		return fmt.Errorf("failed to update refunded quantity: %w", classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: refunded quantity for part %d on bill %d exceeds billed quantity", ErrConflict, partID, billID)
	}
	return nil
}

// UpdateBillRefundState stores the cumulative refunded amount and status
func (t *Tx) UpdateBillRefundState(ctx context.Context, billID int64, refundedAmount decimal.Decimal, status string) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE bills SET refunded_amount = ?, status = ?, updated_at = ? WHERE id = ?`),
		refundedAmount, status, time.Now().UTC(), billID)
	if err != nil {
		return fmt.Errorf("failed to update bill: %w", classify(err))
	}
	return nil
}

// AdjustStock applies deltas to a part's available and sold counters and
// returns the available count before and after the change.
func (t *Tx) AdjustStock(ctx context.Context, partID int64, availableDelta, soldDelta int) (before, after int, err error) {
	err = t.tx.GetContext(ctx, &before,
		t.tx.Rebind("SELECT available_stock FROM parts WHERE id = ?"+t.store.forUpdate()), partID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: %d", ErrPartNotFound, partID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to lock part: %w", classify(err))
	}

	if before+availableDelta < 0 {
		return before, before, fmt.Errorf("%w: part %d available=%d, requested=%d", ErrInsufficientStock, partID, before, -availableDelta)
	}

	_, err = t.tx.ExecContext(ctx, t.tx.Rebind(`
		UPDATE parts
		SET available_stock = available_stock + ?, sold_stock = sold_stock + ?, updated_at = ?
		WHERE id = ?`),
		availableDelta, soldDelta, time.Now().UTC(), partID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to adjust stock: %w", classify(err))
	}

	return before, before + availableDelta, nil
}

// InsertStockMovement appends a stock audit entry
func (t *Tx) InsertStockMovement(ctx context.Context, m *models.StockMovement) error {
	m.CreatedAt = time.Now().UTC()

	err := t.tx.GetContext(ctx, &m.ID, t.tx.Rebind(`
		INSERT INTO stock_movements (part_id, movement_type, quantity, reference_type, reference_id,
		                             previous_available, new_available, created_by, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		m.PartID, m.MovementType, m.Quantity, m.ReferenceType, m.ReferenceID,
		m.PreviousAvailable, m.NewAvailable, m.CreatedBy, m.Notes, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", classify(err))
	}
	return nil
}
