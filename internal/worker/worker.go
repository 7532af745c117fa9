package worker

import (
	"context"

	"parts-service/internal/broker"
	"parts-service/internal/models"
	"parts-service/internal/util"

	"go.uber.org/zap"
)

// StockHandler applies committed sales and refunds to the stock mirror
type StockHandler interface {
	HandleBillCreated(ctx context.Context, event *models.BillCreatedEvent) error
	HandleRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error
}

// StockWorker keeps the cached stock counters in step with the ledger
type StockWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStockWorker creates a new stock mirror worker
func NewStockWorker(consumer *broker.Consumer, handler StockHandler) *StockWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnBillCreated(func(ctx context.Context, event *models.BillCreatedEvent) error {
		err := handler.HandleBillCreated(ctx, event)
		observe(event.EventType, err)
		return err
	})
	eventHandler.OnRefundCreated(func(ctx context.Context, event *models.RefundCreatedEvent) error {
		err := handler.HandleRefundCreated(ctx, event)
		observe(event.EventType, err)
		return err
	})

	return &StockWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

func observe(eventType string, err error) {
	result := "applied"
	if err != nil {
		result = "failed"
	}
	util.StockMirrorEventsTotal.WithLabelValues(eventType, result).Inc()
}

// Start starts the worker
func (w *StockWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockWorker) Stop() error {
	w.logger.Info("Stopping stock worker")
	return w.consumer.Close()
}
