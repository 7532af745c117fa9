package service

import (
	"errors"
	"testing"

	"parts-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBill() (*models.Bill, []models.BillItem) {
	bill := &models.Bill{
		ID:             1,
		TotalAmount:    decimal.NewFromInt(325),
		RefundedAmount: decimal.Zero,
		Status:         models.BillStatusActive,
	}
	items := []models.BillItem{
		{ID: 1, BillID: 1, PartID: 10, Quantity: 5, UnitPrice: decimal.NewFromInt(50), TotalPrice: decimal.NewFromInt(250)},
		{ID: 2, BillID: 1, PartID: 20, Quantity: 3, UnitPrice: decimal.NewFromInt(25), TotalPrice: decimal.NewFromInt(75)},
	}
	return bill, items
}

func requireCode(t *testing.T, err error, code string) *ValidationError {
	t.Helper()
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
	assert.Equal(t, code, vErr.Code)
	return vErr
}

func TestValidateRefundPartialItems(t *testing.T) {
	bill, items := sampleBill()

	plan, err := ValidateRefund(bill, items, &RefundRequest{
		Type:  models.RefundTypePartial,
		Items: []RefundItemRequest{{PartID: 10, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(100).Equal(plan.Amount))
	assert.True(t, decimal.NewFromInt(100).Equal(plan.NewRefundedAmount))
	assert.Equal(t, models.BillStatusPartiallyRefunded, plan.NewStatus)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, int64(10), plan.Lines[0].PartID)
	assert.True(t, decimal.NewFromInt(50).Equal(plan.Lines[0].UnitPrice))
}

func TestValidateRefundFullTakesEverythingRemaining(t *testing.T) {
	bill, items := sampleBill()
	bill.RefundedAmount = decimal.NewFromInt(100)
	bill.Status = models.BillStatusPartiallyRefunded
	items[0].RefundedQuantity = 2

	plan, err := ValidateRefund(bill, items, &RefundRequest{Type: models.RefundTypeFull})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(225).Equal(plan.Amount))
	assert.Equal(t, models.BillStatusRefunded, plan.NewStatus)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, 3, plan.Lines[0].Quantity)
	assert.Equal(t, 3, plan.Lines[1].Quantity)
}

func TestValidateRefundAcceptsTrailingZeros(t *testing.T) {
	bill, items := sampleBill()

	plan, err := ValidateRefund(bill, items, &RefundRequest{Type: models.RefundTypePartial, Amount: decStr("30.500")})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.5").Equal(plan.Amount))
}

func TestValidateRefundAmountOnlyPartial(t *testing.T) {
	bill, items := sampleBill()

	plan, err := ValidateRefund(bill, items, &RefundRequest{Type: models.RefundTypePartial, Amount: dec(30)})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(plan.Amount))
	assert.Empty(t, plan.Lines)
}

func TestValidateRefundRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*models.Bill, []models.BillItem)
		req   *RefundRequest
		code  string
		line  int
	}{
		{
			name: "bill already refunded",
			setup: func(b *models.Bill, _ []models.BillItem) {
				b.RefundedAmount = b.TotalAmount
				b.Status = models.BillStatusRefunded
			},
			req:  &RefundRequest{Type: models.RefundTypeFull},
			code: CodeBillFullyRefunded,
			line: -1,
		},
		{
			name: "unknown type",
			req:  &RefundRequest{Type: "store_credit"},
			code: CodeInvalidType,
			line: -1,
		},
		{
			name: "full with items",
			req:  &RefundRequest{Type: models.RefundTypeFull, Items: []RefundItemRequest{{PartID: 10, Quantity: 1}}},
			code: CodeItemsNotAllowed,
			line: -1,
		},
		{
			name: "full with wrong amount",
			req:  &RefundRequest{Type: models.RefundTypeFull, Amount: dec(300)},
			code: CodeAmountMismatch,
			line: -1,
		},
		{
			name: "full after an amount-only refund",
			setup: func(b *models.Bill, _ []models.BillItem) {
				b.RefundedAmount = decimal.NewFromInt(100)
				b.Status = models.BillStatusPartiallyRefunded
			},
			req:  &RefundRequest{Type: models.RefundTypeFull},
			code: CodeRemainingNotItemized,
			line: -1,
		},
		{
			name: "amount below a cent",
			req:  &RefundRequest{Type: models.RefundTypePartial, Amount: decStr("324.999")},
			code: CodeInvalidAmount,
			line: -1,
		},
		{
			name: "unit price below a cent",
			req: &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{
				{PartID: 20, Quantity: 1, UnitPrice: decStr("25.001")},
			}},
			code: CodeInvalidAmount,
			line: 0,
		},
		{
			name: "partial without items or amount",
			req:  &RefundRequest{Type: models.RefundTypePartial},
			code: CodeInvalidAmount,
			line: -1,
		},
		{
			name: "amount only over remaining",
			req:  &RefundRequest{Type: models.RefundTypePartial, Amount: dec(400)},
			code: CodeAmountExceedsRemaining,
			line: -1,
		},
		{
			name: "part not on bill",
			req: &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{
				{PartID: 10, Quantity: 1}, {PartID: 99, Quantity: 1},
			}},
			code: CodePartNotOnBill,
			line: 1,
		},
		{
			name: "duplicate part",
			req: &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{
				{PartID: 10, Quantity: 1}, {PartID: 10, Quantity: 1},
			}},
			code: CodeDuplicatePart,
			line: 1,
		},
		{
			name: "zero quantity",
			req:  &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{{PartID: 10, Quantity: 0}}},
			code: CodeInvalidQuantity,
			line: 0,
		},
		{
			name: "quantity over remaining",
			setup: func(_ *models.Bill, items []models.BillItem) {
				items[0].RefundedQuantity = 3
			},
			req:  &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{{PartID: 10, Quantity: 3}}},
			code: CodeQuantityExceedsRemaining,
			line: 0,
		},
		{
			name: "unit price differs from billed price",
			req: &RefundRequest{Type: models.RefundTypePartial, Items: []RefundItemRequest{
				{PartID: 20, Quantity: 1, UnitPrice: dec(30)},
			}},
			code: CodeUnitPriceMismatch,
			line: 0,
		},
		{
			name: "amount does not match items",
			req: &RefundRequest{Type: models.RefundTypePartial, Amount: dec(60), Items: []RefundItemRequest{
				{PartID: 10, Quantity: 1},
			}},
			code: CodeAmountMismatch,
			line: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill, items := sampleBill()
			if tt.setup != nil {
				tt.setup(bill, items)
			}

			plan, err := ValidateRefund(bill, items, tt.req)
			assert.Nil(t, plan)
			vErr := requireCode(t, err, tt.code)
			assert.Equal(t, tt.line, vErr.Line)
		})
	}
}

func TestValidateRefundNilBill(t *testing.T) {
	_, err := ValidateRefund(nil, nil, &RefundRequest{Type: models.RefundTypeFull})
	requireCode(t, err, CodeBillNotFound)
}

func TestCheckRequestShapeReportsFields(t *testing.T) {
	err := checkRequestShape(&RefundRequest{Items: []RefundItemRequest{{PartID: 0, Quantity: 1}}})
	vErr := requireCode(t, err, CodeInvalidRequest)
	assert.Equal(t, "required", vErr.Fields["RefundRequest.Type"])
	assert.Equal(t, "required", vErr.Fields["RefundRequest.Items[0].PartID"])
}
