package service

import (
	"parts-service/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// RefundRequest represents a request to refund (part of) a bill
type RefundRequest struct {
	Type           string              `json:"type" validate:"required"`
	Amount         *decimal.Decimal    `json:"amount,omitempty"`
	Reason         string              `json:"reason" validate:"max=500"`
	Items          []RefundItemRequest `json:"items,omitempty" validate:"dive"`
	IdempotencyKey string              `json:"idempotency_key,omitempty" validate:"max=128"`
}

// RefundItemRequest represents one line of a refund request
type RefundItemRequest struct {
	PartID    int64            `json:"part_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

// RefundPlan is a validated refund ready to be written
type RefundPlan struct {
	Type              string
	Amount            decimal.Decimal
	Lines             []PlannedLine
	NewRefundedAmount decimal.Decimal
	NewStatus         string
}

// PlannedLine is one validated refund line
type PlannedLine struct {
	PartID    int64
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// checkRequestShape runs struct-tag validation and reports failures per field
func checkRequestShape(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	vErr := newValidationError(CodeInvalidRequest, "request failed validation")
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		vErr.Fields = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			vErr.Fields[fe.Namespace()] = fe.Tag()
		}
	}
	return vErr
}

// ValidateRefund checks a refund request against the bill's current state.
// items must carry the refunded quantities as of the caller's transaction.
// It has no side effects.
func ValidateRefund(bill *models.Bill, items []models.BillItem, req *RefundRequest) (*RefundPlan, error) {
	if bill == nil {
		return nil, newValidationError(CodeBillNotFound, "bill does not exist")
	}

	remaining := bill.RemainingAmount()
	if bill.Status == models.BillStatusRefunded || !remaining.IsPositive() {
		return nil, newValidationError(CodeBillFullyRefunded, "bill %d is already fully refunded", bill.ID)
	}

	if req.Amount != nil && !inCents(*req.Amount) {
		return nil, newValidationError(CodeInvalidAmount, "amount %s has more than two decimal places", req.Amount)
	}

	plan := &RefundPlan{Type: req.Type}

	switch req.Type {
	case models.RefundTypeFull:
		if len(req.Items) > 0 {
			return nil, newValidationError(CodeItemsNotAllowed, "a full refund covers every remaining item and takes no item list")
		}
		itemsTotal := decimal.Zero
		for _, item := range items {
			qty := item.RemainingQuantity()
			if qty <= 0 {
				continue
			}
			line := PlannedLine{
				PartID:    item.PartID,
				Quantity:  qty,
				UnitPrice: item.UnitPrice,
				Total:     item.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
			}
			plan.Lines = append(plan.Lines, line)
			itemsTotal = itemsTotal.Add(line.Total)
		}
		// amount-only refunds lower the remaining amount without touching
		// item quantities; the rest must then be refunded line by line
		if !itemsTotal.Equal(remaining) {
			return nil, newValidationError(CodeRemainingNotItemized,
				"remaining amount %s differs from remaining items total %s, refund the rest as a partial refund",
				remaining, itemsTotal)
		}
		plan.Amount = remaining
		if req.Amount != nil && !req.Amount.Equal(remaining) {
			return nil, newValidationError(CodeAmountMismatch,
				"full refund amount must equal remaining amount %s, got %s", remaining, req.Amount)
		}

	case models.RefundTypePartial:
		if len(req.Items) == 0 {
			if req.Amount == nil || !req.Amount.IsPositive() {
				return nil, newValidationError(CodeInvalidAmount, "a partial refund without items needs a positive amount")
			}
			plan.Amount = *req.Amount
			break
		}

		lines, total, err := planLines(items, req.Items)
		if err != nil {
			return nil, err
		}
		plan.Lines = lines
		plan.Amount = total
		if req.Amount != nil && !req.Amount.Equal(total) {
			return nil, newValidationError(CodeAmountMismatch,
				"refund amount %s does not match item total %s", req.Amount, total)
		}

	default:
		return nil, newValidationError(CodeInvalidType, "refund type must be %q or %q, got %q",
			models.RefundTypeFull, models.RefundTypePartial, req.Type)
	}

	if !plan.Amount.IsPositive() {
		return nil, newValidationError(CodeInvalidAmount, "refund amount must be positive")
	}
	if plan.Amount.GreaterThan(remaining) {
		return nil, newValidationError(CodeAmountExceedsRemaining,
			"refund amount %s exceeds remaining refundable amount %s", plan.Amount, remaining)
	}

	plan.NewRefundedAmount = bill.RefundedAmount.Add(plan.Amount)
	plan.NewStatus = models.BillStatusFor(bill.TotalAmount, plan.NewRefundedAmount)
	return plan, nil
}

// planLines checks each requested line against the bill and returns the
// validated lines with their total.
func planLines(billItems []models.BillItem, reqItems []RefundItemRequest) ([]PlannedLine, decimal.Decimal, error) {
	byPart := make(map[int64]models.BillItem, len(billItems))
	for _, item := range billItems {
		byPart[item.PartID] = item
	}

	seen := make(map[int64]bool, len(reqItems))
	lines := make([]PlannedLine, 0, len(reqItems))
	total := decimal.Zero

	for i, ri := range reqItems {
		billItem, ok := byPart[ri.PartID]
		if !ok {
			return nil, decimal.Zero, newLineError(CodePartNotOnBill, i, ri.PartID, "part is not on this bill")
		}
		if seen[ri.PartID] {
			return nil, decimal.Zero, newLineError(CodeDuplicatePart, i, ri.PartID, "part appears more than once")
		}
		seen[ri.PartID] = true

		if ri.Quantity <= 0 {
			return nil, decimal.Zero, newLineError(CodeInvalidQuantity, i, ri.PartID, "quantity must be positive, got %d", ri.Quantity)
		}
		if left := billItem.RemainingQuantity(); ri.Quantity > left {
			return nil, decimal.Zero, newLineError(CodeQuantityExceedsRemaining, i, ri.PartID,
				"requested %d but only %d of %d remain refundable", ri.Quantity, left, billItem.Quantity)
		}
		if ri.UnitPrice != nil && !inCents(*ri.UnitPrice) {
			return nil, decimal.Zero, newLineError(CodeInvalidAmount, i, ri.PartID,
				"unit price %s has more than two decimal places", ri.UnitPrice)
		}
		if ri.UnitPrice != nil && !ri.UnitPrice.Equal(billItem.UnitPrice) {
			return nil, decimal.Zero, newLineError(CodeUnitPriceMismatch, i, ri.PartID,
				"unit price %s differs from billed price %s", ri.UnitPrice, billItem.UnitPrice)
		}

		lineTotal := billItem.UnitPrice.Mul(decimal.NewFromInt(int64(ri.Quantity)))
		lines = append(lines, PlannedLine{
			PartID:    ri.PartID,
			Quantity:  ri.Quantity,
			UnitPrice: billItem.UnitPrice,
			Total:     lineTotal,
		})
		total = total.Add(lineTotal)
	}

	return lines, total, nil
}

// inCents reports whether d fits the two decimal places money is stored with
func inCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
