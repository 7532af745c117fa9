package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parts-service/internal/models"
	"parts-service/internal/store"
	"parts-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Actor is the authenticated user performing an operation
type Actor struct {
	UserID   int64
	Username string
	Role     string
}

// EventPublisher publishes domain events once their transaction committed
type EventPublisher interface {
	PublishBillCreated(ctx context.Context, event *models.BillCreatedEvent) error
	PublishRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error
}

// IdempotencyCache remembers which refund answered an idempotency key
type IdempotencyCache interface {
	GetIdempotentRefund(ctx context.Context, key string) (int64, bool, error)
	SetIdempotentRefund(ctx context.Context, key string, refundID int64, ttl time.Duration) error
}

// RefundService handles the refund workflow
type RefundService struct {
	store          *store.Store
	publisher      EventPublisher
	cache          IdempotencyCache
	idempotencyTTL time.Duration
	logger         *zap.Logger
}

// NewRefundService creates a new refund service. publisher and cache may be nil.
func NewRefundService(
	store *store.Store,
	publisher EventPublisher,
	cache IdempotencyCache,
	idempotencyTTL time.Duration,
) *RefundService {
	return &RefundService{
		store:          store,
		publisher:      publisher,
		cache:          cache,
		idempotencyTTL: idempotencyTTL,
		logger:         util.GetLogger(),
	}
}

// BillSummary is the bill state returned alongside a refund
type BillSummary struct {
	ID              int64           `json:"id"`
	BillNumber      string          `json:"bill_number"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RefundedAmount  decimal.Decimal `json:"refunded_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
}

func summarize(bill *models.Bill) BillSummary {
	return BillSummary{
		ID:              bill.ID,
		BillNumber:      bill.BillNumber,
		TotalAmount:     bill.TotalAmount,
		RefundedAmount:  bill.RefundedAmount,
		RemainingAmount: bill.RemainingAmount(),
		Status:          bill.Status,
	}
}

// RefundResult is the outcome of CreateRefund
type RefundResult struct {
	Refund   *models.Refund `json:"refund"`
	Bill     BillSummary    `json:"bill"`
	Replayed bool           `json:"replayed"`
}

// CreateRefund validates and records a refund against a bill, restocking the
// refunded parts. Validation, ledger writes and stock reconciliation share one
// transaction holding the bill row lock, so concurrent refunds on the same
// bill are serialized. A repeated idempotency key returns the original refund.
func (s *RefundService) CreateRefund(ctx context.Context, billID int64, actor Actor, req *RefundRequest) (*RefundResult, error) {
	ctx, span := util.StartSpan(ctx, "RefundService.CreateRefund")
	defer span.End()

	start := time.Now()
	defer func() {
		util.RefundLatency.Observe(time.Since(start).Seconds())
	}()

	if err := checkRequestShape(req); err != nil {
		return nil, s.reject(billID, err)
	}
	if req.IdempotencyKey == "" {
		return nil, s.reject(billID, newValidationError(CodeIdempotencyKeyRequired, "an idempotency key is required to create a refund"))
	}

	if result := s.replayFromCache(ctx, billID, req.IdempotencyKey); result != nil {
		return result, nil
	}

	var result *RefundResult
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		bill, err := tx.LockBill(ctx, billID)
		if errors.Is(err, store.ErrBillNotFound) {
			return newValidationError(CodeBillNotFound, "bill %d does not exist", billID)
		}
		if err != nil {
			return err
		}

		existing, err := tx.GetRefundByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.BillID != billID {
				return newValidationError(CodeIdempotencyKeyConflict,
					"idempotency key already used for bill %d", existing.BillID)
			}
			result = &RefundResult{Refund: existing, Bill: summarize(bill), Replayed: true}
			return nil
		}

		items, err := tx.GetBillItems(ctx, billID)
		if err != nil {
			return err
		}

		plan, err := ValidateRefund(bill, items, req)
		if err != nil {
			return err
		}

		refund, err := s.writeLedger(ctx, tx, bill, plan, actor, req)
		if err != nil {
			return err
		}

		if err := s.reconcileStock(ctx, tx, refund, actor); err != nil {
			return err
		}

		bill.RefundedAmount = plan.NewRefundedAmount
		bill.Status = plan.NewStatus
		result = &RefundResult{Refund: refund, Bill: summarize(bill)}
		return nil
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, s.reject(billID, err)
	}

	if result.Replayed {
		util.RefundsReplayedTotal.Inc()
		s.logger.Info("Duplicate refund request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("refund_id", result.Refund.ID))
		return result, nil
	}

	util.RefundsCreatedTotal.WithLabelValues(result.Refund.Type).Inc()
	amount, _ := result.Refund.Amount.Float64()
	util.RefundAmountTotal.Add(amount)

	s.logger.Info("Refund created",
		zap.Int64("refund_id", result.Refund.ID),
		zap.Int64("bill_id", billID),
		zap.String("amount", result.Refund.Amount.String()),
		zap.String("bill_status", result.Bill.Status),
		zap.Int64("refunded_by", actor.UserID))

	if enriched, err := s.store.GetRefundByID(ctx, result.Refund.ID); err == nil {
		result.Refund = enriched
	} else {
		s.logger.Warn("Failed to reload refund", zap.Int64("refund_id", result.Refund.ID), zap.Error(err))
	}

	s.afterCommit(ctx, result, actor)
	return result, nil
}

// writeLedger persists the refund header and items and moves the bill to
// its new refunded amount and status.
func (s *RefundService) writeLedger(
	ctx context.Context,
	tx *store.Tx,
	bill *models.Bill,
	plan *RefundPlan,
	actor Actor,
	req *RefundRequest,
) (*models.Refund, error) {
	refund := &models.Refund{
		BillID:         bill.ID,
		Amount:         plan.Amount,
		Reason:         req.Reason,
		Type:           plan.Type,
		IdempotencyKey: req.IdempotencyKey,
		RefundedBy:     actor.UserID,
		Items:          make([]models.RefundItem, 0, len(plan.Lines)),
	}

	if err := tx.InsertRefund(ctx, refund); err != nil {
		return nil, err
	}

	for _, line := range plan.Lines {
		item := models.RefundItem{
			RefundID:   refund.ID,
			PartID:     line.PartID,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.Total,
		}
		if err := tx.InsertRefundItem(ctx, &item); err != nil {
			return nil, err
		}
		if err := tx.AddRefundedQuantity(ctx, bill.ID, line.PartID, line.Quantity); err != nil {
			return nil, err
		}
		refund.Items = append(refund.Items, item)
	}

	if err := tx.UpdateBillRefundState(ctx, bill.ID, plan.NewRefundedAmount, plan.NewStatus); err != nil {
		return nil, err
	}

	return refund, nil
}

// reconcileStock returns refunded quantities to available stock and records
// a stock movement per item. Parts are locked in part id order.
func (s *RefundService) reconcileStock(ctx context.Context, tx *store.Tx, refund *models.Refund, actor Actor) error {
	for _, i := range partOrder(len(refund.Items), func(i int) int64 { return refund.Items[i].PartID }) {
		item := refund.Items[i]
		before, after, err := tx.AdjustStock(ctx, item.PartID, item.Quantity, -item.Quantity)
		if err != nil {
			return err
		}

		movement := &models.StockMovement{
			PartID:            item.PartID,
			MovementType:      models.MovementTypeRefund,
			Quantity:          item.Quantity,
			ReferenceType:     models.ReferenceTypeRefund,
			ReferenceID:       refund.ID,
			PreviousAvailable: before,
			NewAvailable:      after,
			CreatedBy:         actor.UserID,
			Notes:             fmt.Sprintf("refund %d of bill %d", refund.ID, refund.BillID),
		}
		if err := tx.InsertStockMovement(ctx, movement); err != nil {
			return err
		}

		util.StockRestockedUnitsTotal.Add(float64(item.Quantity))
	}
	return nil
}

// replayFromCache answers a repeated request without taking the bill lock
// when the cache knows the key. Misses and cache errors fall through.
func (s *RefundService) replayFromCache(ctx context.Context, billID int64, key string) *RefundResult {
	if s.cache == nil {
		return nil
	}

	refundID, ok, err := s.cache.GetIdempotentRefund(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency cache lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	refund, err := s.store.GetRefundByID(ctx, refundID)
	if err != nil || refund.BillID != billID {
		return nil
	}
	bill, err := s.store.GetBillByID(ctx, billID)
	if err != nil {
		return nil
	}

	util.RefundsReplayedTotal.Inc()
	return &RefundResult{Refund: refund, Bill: summarize(bill), Replayed: true}
}

// afterCommit publishes the refund event and caches the idempotency key.
// Failures are logged; the refund is already durable.
func (s *RefundService) afterCommit(ctx context.Context, result *RefundResult, actor Actor) {
	refund := result.Refund

	if s.cache != nil {
		if err := s.cache.SetIdempotentRefund(ctx, refund.IdempotencyKey, refund.ID, s.idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Int64("refund_id", refund.ID), zap.Error(err))
		}
	}

	if s.publisher == nil {
		return
	}

	lines := make([]models.StockLineData, 0, len(refund.Items))
	for _, item := range refund.Items {
		lines = append(lines, models.StockLineData{
			PartID:    item.PartID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.RefundCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRefundCreated,
			Timestamp: time.Now(),
		},
		RefundID:   refund.ID,
		BillID:     refund.BillID,
		Amount:     refund.Amount,
		RefundType: refund.Type,
		BillStatus: result.Bill.Status,
		RefundedBy: actor.UserID,
		Items:      lines,
	}

	if err := s.publisher.PublishRefundCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish RefundCreated event", zap.Error(err))
	}
}

// reject records a failed refund and converts store failures into
// PersistenceError.
func (s *RefundService) reject(billID int64, err error) error {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		util.RefundsRejectedTotal.WithLabelValues(vErr.Code).Inc()
		s.logger.Info("Refund rejected",
			zap.Int64("bill_id", billID),
			zap.String("code", vErr.Code),
			zap.String("message", vErr.Message))
		return vErr
	}

	pErr := wrapPersistence("create refund", err).(*PersistenceError)
	util.RefundsRejectedTotal.WithLabelValues("persistence").Inc()
	s.logger.Error("Refund failed",
		zap.Int64("bill_id", billID),
		zap.Bool("conflict", pErr.Conflict),
		zap.Error(err))
	return pErr
}

// GetRefunds returns the refund history of a bill
func (s *RefundService) GetRefunds(ctx context.Context, billID int64) ([]models.Refund, error) {
	if _, err := s.store.GetBillByID(ctx, billID); err != nil {
		if errors.Is(err, store.ErrBillNotFound) {
			return nil, newValidationError(CodeBillNotFound, "bill %d does not exist", billID)
		}
		return nil, wrapPersistence("get refunds", err)
	}

	refunds, err := s.store.GetRefundsByBillID(ctx, billID)
	if err != nil {
		return nil, wrapPersistence("get refunds", err)
	}
	return refunds, nil
}
