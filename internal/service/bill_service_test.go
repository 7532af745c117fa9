package service

import (
	"context"
	"strings"
	"testing"

	"parts-service/internal/models"
	"parts-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBill(t *testing.T) {
	s := newTestStore(t)
	pub := &fakePublisher{}
	svc := NewBillService(s, pub)
	ctx := context.Background()

	brake := seedPart(t, s, "BP-100", "Brake Pad", 50, 10)
	filter := seedPart(t, s, "OF-200", "Oil Filter", 25, 4)

	bill, err := svc.CreateBill(ctx, admin, &CreateBillRequest{
		CustomerName: "Jane Doe",
		Items: []BillItemRequest{
			{PartID: brake.ID, Quantity: 2},
			{PartID: filter.ID, Quantity: 4, UnitPrice: dec(20)},
		},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(bill.BillNumber, "BILL-"))
	assert.Equal(t, models.BillStatusActive, bill.Status)
	assert.True(t, decimal.NewFromInt(180).Equal(bill.TotalAmount))
	assert.True(t, decimal.NewFromInt(180).Equal(bill.RemainingAmount))
	assert.Equal(t, admin.UserID, bill.CreatedBy)
	require.Len(t, bill.Items, 2)
	assert.Equal(t, 4, bill.Items[1].RemainingQuantity)
	assert.True(t, decimal.NewFromInt(20).Equal(bill.Items[1].UnitPrice))
	assert.Empty(t, bill.Refunds)

	got, err := s.GetPartByID(ctx, filter.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AvailableStock)
	assert.Equal(t, 4, got.SoldStock)

	require.Len(t, pub.bills, 1)
	assert.Equal(t, bill.ID, pub.bills[0].BillID)
	assert.Len(t, pub.bills[0].Items, 2)

	detail, err := svc.GetBillDetail(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, bill.BillNumber, detail.BillNumber)
	require.Len(t, detail.Items, 2)
	assert.Equal(t, "Brake Pad", detail.Items[0].PartName)
	assert.Equal(t, 2, detail.Items[0].RemainingQuantity)
}

func TestCreateBillRejections(t *testing.T) {
	s := newTestStore(t)
	svc := NewBillService(s, nil)
	ctx := context.Background()
	brake := seedPart(t, s, "BP-100", "Brake Pad", 50, 3)

	tests := []struct {
		name string
		req  *CreateBillRequest
		code string
	}{
		{
			name: "missing customer",
			req:  &CreateBillRequest{Items: []BillItemRequest{{PartID: brake.ID, Quantity: 1}}},
			code: CodeInvalidRequest,
		},
		{
			name: "no items",
			req:  &CreateBillRequest{CustomerName: "Jane"},
			code: CodeInvalidRequest,
		},
		{
			name: "unknown part",
			req:  &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{{PartID: 9999, Quantity: 1}}},
			code: CodePartNotFound,
		},
		{
			name: "duplicate part",
			req: &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{
				{PartID: brake.ID, Quantity: 1}, {PartID: brake.ID, Quantity: 1},
			}},
			code: CodeDuplicatePart,
		},
		{
			name: "negative unit price",
			req:  &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{{PartID: brake.ID, Quantity: 1, UnitPrice: dec(-5)}}},
			code: CodeInvalidAmount,
		},
		{
			name: "zero unit price",
			req:  &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{{PartID: brake.ID, Quantity: 1, UnitPrice: dec(0)}}},
			code: CodeInvalidAmount,
		},
		{
			name: "unit price below a cent",
			req:  &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{{PartID: brake.ID, Quantity: 1, UnitPrice: decStr("49.999")}}},
			code: CodeInvalidAmount,
		},
		{
			name: "not enough stock",
			req:  &CreateBillRequest{CustomerName: "Jane", Items: []BillItemRequest{{PartID: brake.ID, Quantity: 4}}},
			code: CodeInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBill(ctx, admin, tt.req)
			requireCode(t, err, tt.code)
		})
	}

	got, err := s.GetPartByID(ctx, brake.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AvailableStock)

	_, err = s.GetBillByID(ctx, 1)
	assert.ErrorIs(t, err, store.ErrBillNotFound)
}

func TestCreateBillKeepsRequestLineOrder(t *testing.T) {
	s := newTestStore(t)
	svc := NewBillService(s, nil)
	ctx := context.Background()

	brake := seedPart(t, s, "BP-100", "Brake Pad", 50, 10)
	filter := seedPart(t, s, "OF-200", "Oil Filter", 25, 10)

	bill, err := svc.CreateBill(ctx, admin, &CreateBillRequest{
		CustomerName: "Jane",
		Items: []BillItemRequest{
			{PartID: filter.ID, Quantity: 1},
			{PartID: brake.ID, Quantity: 2},
			{PartID: 9999, Quantity: 1},
		},
	})
	vErr := requireCode(t, err, CodePartNotFound)
	assert.Equal(t, 2, vErr.Line)
	assert.Nil(t, bill)

	bill, err = svc.CreateBill(ctx, admin, &CreateBillRequest{
		CustomerName: "Jane",
		Items: []BillItemRequest{
			{PartID: filter.ID, Quantity: 1},
			{PartID: brake.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	require.Len(t, bill.Items, 2)
	assert.Equal(t, filter.ID, bill.Items[0].PartID)
	assert.Equal(t, brake.ID, bill.Items[1].PartID)
	assert.True(t, decimal.NewFromInt(125).Equal(bill.TotalAmount))
}

func TestPartOrder(t *testing.T) {
	ids := []int64{30, 10, 20, 10}

	order := partOrder(len(ids), func(i int) int64 { return ids[i] })

	assert.Equal(t, []int{1, 3, 2, 0}, order)
}

func TestDuplicateBillNumberIsConflict(t *testing.T) {
	s := newTestStore(t)
	svc := NewBillService(s, nil)
	ctx := context.Background()
	brake := seedPart(t, s, "BP-100", "Brake Pad", 50, 10)

	req := func() *CreateBillRequest {
		return &CreateBillRequest{
			BillNumber:   "INV-1",
			CustomerName: "Jane",
			Items:        []BillItemRequest{{PartID: brake.ID, Quantity: 1}},
		}
	}

	_, err := svc.CreateBill(ctx, admin, req())
	require.NoError(t, err)

	_, err = svc.CreateBill(ctx, admin, req())
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.True(t, pErr.Conflict)

	got, err := s.GetPartByID(ctx, brake.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.AvailableStock)
}

func TestGetBillDetailUnknownBill(t *testing.T) {
	svc := NewBillService(newTestStore(t), nil)

	_, err := svc.GetBillDetail(context.Background(), 9999)
	requireCode(t, err, CodeBillNotFound)
}
