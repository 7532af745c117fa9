package service

import (
	"context"
	"errors"
	"fmt"

	"parts-service/internal/models"
	"parts-service/internal/store"
	"parts-service/internal/util"

	"go.uber.org/zap"
)

// StockCache mirrors part stock counters for fast reads
type StockCache interface {
	InitStock(ctx context.Context, partID int64, available, sold int) error
	AdjustStock(ctx context.Context, partID int64, availableDelta, soldDelta int) (bool, error)
	GetStock(ctx context.Context, partID int64) (available, sold int, err error)
}

// StockLevel is a part's availability as served to readers
type StockLevel struct {
	PartID    int64  `json:"part_id"`
	Available int    `json:"available"`
	Sold      int    `json:"sold"`
	Source    string `json:"source"`
}

// InventoryService handles part reads and keeps the stock mirror in step
// with committed sales and refunds.
type InventoryService struct {
	store  *store.Store
	cache  StockCache
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service. cache may be nil.
func NewInventoryService(store *store.Store, cache StockCache) *InventoryService {
	return &InventoryService{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// GetPart retrieves a part with its stock counters
func (is *InventoryService) GetPart(ctx context.Context, partID int64) (*models.Part, error) {
	part, err := is.store.GetPartByID(ctx, partID)
	if errors.Is(err, store.ErrPartNotFound) {
		return nil, newValidationError(CodePartNotFound, "part %d does not exist", partID)
	}
	if err != nil {
		return nil, wrapPersistence("get part", err)
	}
	return part, nil
}

// GetStockLevel serves a part's stock from the mirror, falling back to the
// database when the mirror is unavailable or cold.
func (is *InventoryService) GetStockLevel(ctx context.Context, partID int64) (*StockLevel, error) {
	if is.cache != nil {
		available, sold, err := is.cache.GetStock(ctx, partID)
		if err == nil {
			return &StockLevel{PartID: partID, Available: available, Sold: sold, Source: "cache"}, nil
		}
		is.logger.Debug("Stock cache miss", zap.Int64("part_id", partID), zap.Error(err))
	}

	part, err := is.GetPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	return &StockLevel{PartID: partID, Available: part.AvailableStock, Sold: part.SoldStock, Source: "database"}, nil
}

// GetStockMovements retrieves the stock audit trail of a part
func (is *InventoryService) GetStockMovements(ctx context.Context, partID int64, limit int) ([]models.StockMovement, error) {
	if _, err := is.GetPart(ctx, partID); err != nil {
		return nil, err
	}

	movements, err := is.store.GetStockMovements(ctx, partID, limit)
	if err != nil {
		return nil, wrapPersistence("get stock movements", err)
	}
	if movements == nil {
		movements = []models.StockMovement{}
	}
	return movements, nil
}

// SyncStockToCache copies every part's stock counters into the mirror
func (is *InventoryService) SyncStockToCache(ctx context.Context) error {
	if is.cache == nil {
		return nil
	}

	is.logger.Info("Starting stock sync to cache")

	parts, err := is.store.GetParts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get parts: %w", err)
	}

	for _, part := range parts {
		if err := is.cache.InitStock(ctx, part.ID, part.AvailableStock, part.SoldStock); err != nil {
			is.logger.Error("Failed to init cached stock",
				zap.Int64("part_id", part.ID),
				zap.Error(err))
		}
	}

	is.logger.Info("Stock sync completed", zap.Int("count", len(parts)))
	return nil
}

// HandleBillCreated moves sold quantities out of the mirrored available stock
func (is *InventoryService) HandleBillCreated(ctx context.Context, event *models.BillCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.HandleBillCreated")
	defer span.End()

	return is.applyOnce(ctx, event.BaseEvent, event.Items, -1)
}

// HandleRefundCreated returns refunded quantities to the mirrored available stock
func (is *InventoryService) HandleRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.HandleRefundCreated")
	defer span.End()

	return is.applyOnce(ctx, event.BaseEvent, event.Items, 1)
}

// applyOnce applies an event's stock lines to the mirror unless the event
// was already processed. sign is +1 for restocking and -1 for sales.
func (is *InventoryService) applyOnce(ctx context.Context, base models.BaseEvent, lines []models.StockLineData, sign int) error {
	if is.cache == nil {
		return nil
	}

	processed, err := is.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		is.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	for i, line := range lines {
		applied, err := is.cache.AdjustStock(ctx, line.PartID, sign*line.Quantity, -sign*line.Quantity)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("failed to adjust cached stock for part %d: %w", line.PartID, err)
			}
			// earlier lines are already applied and a redelivery would apply
			// them again; load the committed counters for every line instead
			is.logger.Warn("Stock mirror partially applied, resyncing event parts",
				zap.String("event_id", base.EventID),
				zap.Int64("part_id", line.PartID),
				zap.Error(err))
			is.resyncLines(ctx, lines)
			break
		}
		if !applied {
			// not mirrored yet; load the committed counters instead
			if err := is.resyncPart(ctx, line.PartID); err != nil {
				is.logger.Error("Failed to resync part",
					zap.Int64("part_id", line.PartID),
					zap.Error(err))
			}
		}
	}

	if err := is.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		is.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	is.logger.Info("Stock mirror updated",
		zap.String("event_type", base.EventType),
		zap.String("event_id", base.EventID),
		zap.Int("lines", len(lines)))
	return nil
}

func (is *InventoryService) resyncLines(ctx context.Context, lines []models.StockLineData) {
	for _, line := range lines {
		if err := is.resyncPart(ctx, line.PartID); err != nil {
			is.logger.Error("Failed to resync part",
				zap.Int64("part_id", line.PartID),
				zap.Error(err))
		}
	}
}

func (is *InventoryService) resyncPart(ctx context.Context, partID int64) error {
	part, err := is.store.GetPartByID(ctx, partID)
	if err != nil {
		return err
	}
	return is.cache.InitStock(ctx, part.ID, part.AvailableStock, part.SoldStock)
}
