package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"parts-service/internal/models"
	"parts-service/internal/store"
	"parts-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BillService handles sales and the bill read path
type BillService struct {
	store     *store.Store
	publisher EventPublisher
	logger    *zap.Logger
}

// NewBillService creates a new bill service. publisher may be nil.
func NewBillService(store *store.Store, publisher EventPublisher) *BillService {
	return &BillService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateBillRequest represents a sale
type CreateBillRequest struct {
	BillNumber    string            `json:"bill_number,omitempty" validate:"max=64"`
	CustomerName  string            `json:"customer_name" validate:"required,max=200"`
	CustomerPhone string            `json:"customer_phone,omitempty" validate:"max=32"`
	Items         []BillItemRequest `json:"items" validate:"required,min=1,dive"`
}

// BillItemRequest represents one sold line. UnitPrice defaults to the part's list price.
type BillItemRequest struct {
	PartID    int64            `json:"part_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// BillItemDetail is a bill line with its remaining refundable quantity
type BillItemDetail struct {
	models.BillItem
	RemainingQuantity int `json:"remaining_quantity"`
}

// BillDetail is a bill with its items and full refund history
type BillDetail struct {
	models.Bill
	RemainingAmount decimal.Decimal  `json:"remaining_amount"`
	Items           []BillItemDetail `json:"items"`
	Refunds         []models.Refund  `json:"refunds"`
}

// CreateBill records a sale: it writes the bill and its lines and moves the
// sold quantities from available to sold stock in one transaction.
func (s *BillService) CreateBill(ctx context.Context, actor Actor, req *CreateBillRequest) (*BillDetail, error) {
	ctx, span := util.StartSpan(ctx, "BillService.CreateBill")
	defer span.End()

	if err := checkRequestShape(req); err != nil {
		return nil, err
	}

	billNumber := strings.TrimSpace(req.BillNumber)
	if billNumber == "" {
		billNumber = fmt.Sprintf("BILL-%s", strings.ToUpper(uuid.New().String()[:8]))
	}

	var bill *models.Bill
	var lines []models.BillItem
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		seen := make(map[int64]bool, len(req.Items))
		total := decimal.Zero
		lines = make([]models.BillItem, len(req.Items))

		for _, i := range partOrder(len(req.Items), func(i int) int64 { return req.Items[i].PartID }) {
			item := req.Items[i]
			if seen[item.PartID] {
				return newLineError(CodeDuplicatePart, i, item.PartID, "part appears more than once")
			}
			seen[item.PartID] = true

			part, err := tx.GetPart(ctx, item.PartID)
			if errors.Is(err, store.ErrPartNotFound) {
				return newLineError(CodePartNotFound, i, item.PartID, "part does not exist")
			}
			if err != nil {
				return err
			}
			if part.AvailableStock < item.Quantity {
				return newLineError(CodeInsufficientStock, i, item.PartID,
					"requested %d but only %d available", item.Quantity, part.AvailableStock)
			}

			price := part.Price
			if item.UnitPrice != nil {
				price = *item.UnitPrice
			}
			if !price.IsPositive() || !inCents(price) {
				return newLineError(CodeInvalidAmount, i, item.PartID,
					"unit price must be positive with at most two decimal places, got %s", price)
			}
			lines[i] = models.BillItem{
				PartID:       item.PartID,
				Quantity:     item.Quantity,
				UnitPrice:    price,
				TotalPrice:   price.Mul(decimal.NewFromInt(int64(item.Quantity))),
				PartName:     part.Name,
				Manufacturer: part.Manufacturer,
			}
			total = total.Add(lines[i].TotalPrice)
		}

		bill = &models.Bill{
			BillNumber:     billNumber,
			CustomerName:   req.CustomerName,
			CustomerPhone:  req.CustomerPhone,
			TotalAmount:    total,
			RefundedAmount: decimal.Zero,
			Status:         models.BillStatusActive,
			CreatedBy:      actor.UserID,
		}
		if err := tx.InsertBill(ctx, bill); err != nil {
			return err
		}

		for i := range lines {
			lines[i].BillID = bill.ID
			if err := tx.InsertBillItem(ctx, &lines[i]); err != nil {
				return err
			}

			before, after, err := tx.AdjustStock(ctx, lines[i].PartID, -lines[i].Quantity, lines[i].Quantity)
			if errors.Is(err, store.ErrInsufficientStock) {
				return newLineError(CodeInsufficientStock, i, lines[i].PartID, "not enough stock available")
			}
			if err != nil {
				return err
			}

			if err := tx.InsertStockMovement(ctx, &models.StockMovement{
				PartID:            lines[i].PartID,
				MovementType:      models.MovementTypeSale,
				Quantity:          -lines[i].Quantity,
				ReferenceType:     models.ReferenceTypeBill,
				ReferenceID:       bill.ID,
				PreviousAvailable: before,
				NewAvailable:      after,
				CreatedBy:         actor.UserID,
				Notes:             fmt.Sprintf("sale on bill %s", bill.BillNumber),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.RecordError(ctx, err)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			s.logger.Error("Failed to create bill", zap.Error(err))
		}
		return nil, wrapPersistence("create bill", err)
	}

	util.BillsCreatedTotal.Inc()
	s.logger.Info("Bill created",
		zap.Int64("bill_id", bill.ID),
		zap.String("bill_number", bill.BillNumber),
		zap.String("total_amount", bill.TotalAmount.String()))

	s.publishBillCreated(ctx, bill, lines)

	detail := &BillDetail{
		Bill:            *bill,
		RemainingAmount: bill.RemainingAmount(),
		Items:           make([]BillItemDetail, 0, len(lines)),
		Refunds:         []models.Refund{},
	}
	for _, line := range lines {
		detail.Items = append(detail.Items, BillItemDetail{BillItem: line, RemainingQuantity: line.RemainingQuantity()})
	}
	return detail, nil
}

// partOrder returns the indices 0..n-1 sorted by part id. Part rows are
// locked in this order so transactions sharing parts cannot deadlock.
func partOrder(n int, partID func(i int) int64) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return partID(order[a]) < partID(order[b])
	})
	return order
}

func (s *BillService) publishBillCreated(ctx context.Context, bill *models.Bill, lines []models.BillItem) {
	if s.publisher == nil {
		return
	}

	items := make([]models.StockLineData, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.StockLineData{
			PartID:    line.PartID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.BillCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeBillCreated,
			Timestamp: time.Now(),
		},
		BillID:      bill.ID,
		TotalAmount: bill.TotalAmount,
		Items:       items,
	}

	if err := s.publisher.PublishBillCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BillCreated event", zap.Error(err))
	}
}

// GetBillDetail returns a bill with its items and time-ordered refunds, each
// refund carrying its items with part name and manufacturer.
func (s *BillService) GetBillDetail(ctx context.Context, billID int64) (*BillDetail, error) {
	ctx, span := util.StartSpan(ctx, "BillService.GetBillDetail")
	defer span.End()

	bill, err := s.store.GetBillByID(ctx, billID)
	if errors.Is(err, store.ErrBillNotFound) {
		return nil, newValidationError(CodeBillNotFound, "bill %d does not exist", billID)
	}
	if err != nil {
		return nil, wrapPersistence("get bill", err)
	}

	items, err := s.store.GetBillItems(ctx, billID)
	if err != nil {
		return nil, wrapPersistence("get bill items", err)
	}

	refunds, err := s.store.GetRefundsByBillID(ctx, billID)
	if err != nil {
		return nil, wrapPersistence("get bill refunds", err)
	}

	detail := &BillDetail{
		Bill:            *bill,
		RemainingAmount: bill.RemainingAmount(),
		Items:           make([]BillItemDetail, 0, len(items)),
		Refunds:         refunds,
	}
	for _, item := range items {
		detail.Items = append(detail.Items, BillItemDetail{BillItem: item, RemainingQuantity: item.RemainingQuantity()})
	}
	return detail, nil
}
