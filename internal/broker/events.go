package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"parts-service/internal/models"
	"parts-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func billKey(billID int64) string {
	return fmt.Sprintf("bill-%d", billID)
}

// PublishBillCreated publishes BillCreated event
func (ep *EventPublisher) PublishBillCreated(ctx context.Context, event *models.BillCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, billKey(event.BillID), event.EventType, event)
}

// PublishRefundCreated publishes RefundCreated event
func (ep *EventPublisher) PublishRefundCreated(ctx context.Context, event *models.RefundCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, billKey(event.BillID), event.EventType, event)
}

// EventHandler routes incoming events to registered callbacks
type EventHandler struct {
	onBillCreated   func(context.Context, *models.BillCreatedEvent) error
	onRefundCreated func(context.Context, *models.RefundCreatedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnBillCreated registers a handler for BillCreated events
func (eh *EventHandler) OnBillCreated(handler func(context.Context, *models.BillCreatedEvent) error) {
	eh.onBillCreated = handler
}

// OnRefundCreated registers a handler for RefundCreated events
func (eh *EventHandler) OnRefundCreated(handler func(context.Context, *models.RefundCreatedEvent) error) {
	eh.onRefundCreated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeBillCreated:
		if eh.onBillCreated != nil {
			var event models.BillCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BillCreated event: %w", err)
			}
			return eh.onBillCreated(ctx, &event)
		}

	case models.EventTypeRefundCreated:
		if eh.onRefundCreated != nil {
			var event models.RefundCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RefundCreated event: %w", err)
			}
			return eh.onRefundCreated(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type",
			zap.String("event_type", baseEvent.EventType),
			zap.String("event_id", baseEvent.EventID))
	}

	return nil
}
