package service

import (
	"errors"
	"fmt"

	"parts-service/internal/store"
)

// Validation error codes
const (
	CodeBillNotFound             = "bill_not_found"
	CodeBillFullyRefunded        = "bill_fully_refunded"
	CodeInvalidRequest           = "invalid_request"
	CodeInvalidType              = "invalid_type"
	CodeItemsNotAllowed          = "items_not_allowed"
	CodeItemsRequired            = "items_required"
	CodePartNotOnBill            = "part_not_on_bill"
	CodePartNotFound             = "part_not_found"
	CodeDuplicatePart            = "duplicate_part"
	CodeInvalidQuantity          = "invalid_quantity"
	CodeQuantityExceedsRemaining = "quantity_exceeds_remaining"
	CodeInsufficientStock        = "insufficient_stock"
	CodeUnitPriceMismatch        = "unit_price_mismatch"
	CodeInvalidAmount            = "invalid_amount"
	CodeAmountMismatch           = "amount_mismatch"
	CodeAmountExceedsRemaining   = "amount_exceeds_remaining"
	CodeRemainingNotItemized     = "remaining_not_itemized"
	CodeIdempotencyKeyRequired   = "idempotency_key_required"
	CodeIdempotencyKeyConflict   = "idempotency_key_conflict"
)

// ValidationError reports a request that is invalid against the current
// state of a bill. Line is the zero-based index of the offending item, or -1.
type ValidationError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Line    int               `json:"line"`
	PartID  int64             `json:"part_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("%s: %s (line %d, part %d)", e.Code, e.Message, e.Line, e.PartID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...), Line: -1}
}

func newLineError(code string, line int, partID int64, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...), Line: line, PartID: partID}
}

// PersistenceError reports a failed write or read against the store. The
// whole operation failed and none of its writes are visible.
type PersistenceError struct {
	Op       string
	Conflict bool
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// wrapPersistence converts a store failure into a PersistenceError unless it
// already is a ValidationError raised inside a transaction.
func wrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr
	}

	return &PersistenceError{
		Op:       op,
		Conflict: errors.Is(err, store.ErrConflict),
		Err:      err,
	}
}
