package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"parts-service/internal/models"
	"parts-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var admin = Actor{UserID: 42, Username: "cashier", Role: "admin"}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		filepath.Join(t.TempDir(), "parts.db"))
	s, err := store.NewStore(store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedPart(t *testing.T, s *store.Store, number, name string, price int64, stock int) *models.Part {
	t.Helper()

	part := &models.Part{
		PartNumber:     number,
		Name:           name,
		Manufacturer:   "Bosch",
		Price:          decimal.NewFromInt(price),
		AvailableStock: stock,
	}
	require.NoError(t, s.CreatePart(context.Background(), part))
	return part
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func decStr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

type fakePublisher struct {
	mu      sync.Mutex
	bills   []*models.BillCreatedEvent
	refunds []*models.RefundCreatedEvent
}

func (f *fakePublisher) PublishBillCreated(_ context.Context, event *models.BillCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bills = append(f.bills, event)
	return nil
}

func (f *fakePublisher) PublishRefundCreated(_ context.Context, event *models.RefundCreatedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, event)
	return nil
}

func (f *fakePublisher) refundEvents() []*models.RefundCreatedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.RefundCreatedEvent(nil), f.refunds...)
}

type fakeIdempotencyCache struct {
	mu   sync.Mutex
	keys map[string]int64
}

func newFakeIdempotencyCache() *fakeIdempotencyCache {
	return &fakeIdempotencyCache{keys: make(map[string]int64)}
}

func (f *fakeIdempotencyCache) GetIdempotentRefund(_ context.Context, key string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.keys[key]
	return id, ok, nil
}

func (f *fakeIdempotencyCache) SetIdempotentRefund(_ context.Context, key string, refundID int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = refundID
	return nil
}

type stockCounters struct {
	available int
	sold      int
}

type fakeStockCache struct {
	mu       sync.Mutex
	parts    map[int64]stockCounters
	adjust   int
	failPart int64
}

func newFakeStockCache() *fakeStockCache {
	return &fakeStockCache{parts: make(map[int64]stockCounters)}
}

func (f *fakeStockCache) InitStock(_ context.Context, partID int64, available, sold int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[partID] = stockCounters{available: available, sold: sold}
	return nil
}

func (f *fakeStockCache) AdjustStock(_ context.Context, partID int64, availableDelta, soldDelta int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if partID == f.failPart {
		return false, fmt.Errorf("adjust failed for part %d", partID)
	}
	c, ok := f.parts[partID]
	if !ok {
		return false, nil
	}
	f.adjust++
	f.parts[partID] = stockCounters{available: c.available + availableDelta, sold: c.sold + soldDelta}
	return true, nil
}

func (f *fakeStockCache) GetStock(_ context.Context, partID int64) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.parts[partID]
	if !ok {
		return 0, 0, fmt.Errorf("stock not cached for part %d", partID)
	}
	return c.available, c.sold, nil
}
