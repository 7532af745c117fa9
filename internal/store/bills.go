package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parts-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const billColumns = `id, bill_number, customer_name, customer_phone, total_amount, refunded_amount, status, created_by, created_at, updated_at`

const refundColumns = `id, bill_id, amount, reason, refund_type, idempotency_key, refunded_by, created_at`

// GetBillByID retrieves a bill by ID
func (s *Store) GetBillByID(ctx context.Context, id int64) (*models.Bill, error) {
	var bill models.Bill
	err := s.db.GetContext(ctx, &bill, s.db.Rebind("SELECT "+billColumns+" FROM bills WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrBillNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// GetBillItems retrieves the lines of a bill enriched with part details
func (s *Store) GetBillItems(ctx context.Context, billID int64) ([]models.BillItem, error) {
	items := []models.BillItem{}
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT bi.id, bi.bill_id, bi.part_id, bi.quantity, bi.unit_price, bi.total_price, bi.refunded_quantity,
		       p.name AS part_name, p.manufacturer
		FROM bill_items bi
		JOIN parts p ON p.id = bi.part_id
		WHERE bi.bill_id = ?
		ORDER BY bi.id`), billID)
	return items, err
}

// GetRefundsByBillID retrieves every refund of a bill in time order, each
// with its items enriched with part name and manufacturer.
func (s *Store) GetRefundsByBillID(ctx context.Context, billID int64) ([]models.Refund, error) {
	return loadRefunds(ctx, s.db, "bill_id = ?", billID)
}

// GetRefundByID retrieves a single refund with its items
func (s *Store) GetRefundByID(ctx context.Context, id int64) (*models.Refund, error) {
	refunds, err := loadRefunds(ctx, s.db, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(refunds) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRefundNotFound, id)
	}
	return &refunds[0], nil
}

// loadRefunds selects refunds matching where and attaches their items
func loadRefunds(ctx context.Context, q sqlx.ExtContext, where string, args ...interface{}) ([]models.Refund, error) {
	refunds := []models.Refund{}
	err := sqlx.SelectContext(ctx, q, &refunds, q.Rebind(
		"SELECT "+refundColumns+" FROM refunds WHERE "+where+" ORDER BY created_at, id"), args...)
	if err != nil {
		return nil, err
	}
	if len(refunds) == 0 {
		return refunds, nil
	}

	ids := make([]int64, len(refunds))
	index := make(map[int64]int, len(refunds))
	for i := range refunds {
		ids[i] = refunds[i].ID
		index[refunds[i].ID] = i
		refunds[i].Items = []models.RefundItem{}
	}

	query, inArgs, err := sqlx.In(`
		SELECT ri.id, ri.refund_id, ri.part_id, ri.quantity, ri.unit_price, ri.total_price,
		       p.name AS part_name, p.manufacturer
		FROM refund_items ri
		JOIN parts p ON p.id = ri.part_id
		WHERE ri.refund_id IN (?)
		ORDER BY ri.refund_id, ri.id`, ids)
	if err != nil {
		return nil, err
	}

	var items []models.RefundItem
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(query), inArgs...); err != nil {
		return nil, err
	}

	for _, item := range items {
		i := index[item.RefundID]
		refunds[i].Items = append(refunds[i].Items, item)
	}
	return refunds, nil
}
