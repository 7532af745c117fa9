package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"parts-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Key: []byte("bill-1"), Value: value}
}

func TestEventHandlerRoutesByType(t *testing.T) {
	handler := NewEventHandler()

	var gotBill *models.BillCreatedEvent
	var gotRefund *models.RefundCreatedEvent
	handler.OnBillCreated(func(_ context.Context, e *models.BillCreatedEvent) error {
		gotBill = e
		return nil
	})
	handler.OnRefundCreated(func(_ context.Context, e *models.RefundCreatedEvent) error {
		gotRefund = e
		return nil
	})

	refund := &models.RefundCreatedEvent{
		BaseEvent:  models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeRefundCreated, Timestamp: time.Now()},
		RefundID:   3,
		BillID:     1,
		Amount:     decimal.NewFromInt(100),
		RefundType: models.RefundTypePartial,
		Items:      []models.StockLineData{{PartID: 10, Quantity: 2, UnitPrice: decimal.NewFromInt(50)}},
	}
	require.NoError(t, handler.HandleMessage(context.Background(), message(t, refund)))
	require.NotNil(t, gotRefund)
	assert.Nil(t, gotBill)
	assert.Equal(t, int64(3), gotRefund.RefundID)
	assert.True(t, decimal.NewFromInt(100).Equal(gotRefund.Amount))
	require.Len(t, gotRefund.Items, 1)
	assert.Equal(t, 2, gotRefund.Items[0].Quantity)

	bill := &models.BillCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypeBillCreated, Timestamp: time.Now()},
		BillID:    1,
	}
	require.NoError(t, handler.HandleMessage(context.Background(), message(t, bill)))
	require.NotNil(t, gotBill)
	assert.Equal(t, "evt-1", gotBill.EventID)
}

func TestEventHandlerIgnoresUnknownTypes(t *testing.T) {
	handler := NewEventHandler()

	msg := message(t, models.BaseEvent{EventID: "evt-9", EventType: "SOMETHING_ELSE"})
	assert.NoError(t, handler.HandleMessage(context.Background(), msg))

	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
