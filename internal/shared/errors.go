package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrIllegalTransition indicates an action that is not allowed from the current status.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrConcurrentModification indicates an optimistic-lock conflict.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInsufficientStock indicates at least one item is short.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStaleDocument indicates a prerequisite document changed since it was observed.
	ErrStaleDocument = errors.New("stale document")
	// ErrInvariantViolation indicates a data-integrity bug. Never retried.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrIdempotencyConflict indicates a duplicate key.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is reports sentinel equality for errors.Is.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IllegalTransitionError reports an unknown (status, action) pair.
type IllegalTransitionError struct {
	Kind   string
	Status string
	Action string
	Reason string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("illegal transition: %s cannot %s from %s", e.Kind, e.Action, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is reports sentinel equality for errors.Is.
func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

// ShortItem is one line that could not be covered by available stock.
type ShortItem struct {
	WarehouseID int64           `json:"warehouse_id"`
	ItemID      int64           `json:"item_id"`
	Available   decimal.Decimal `json:"available"`
	Requested   decimal.Decimal `json:"requested"`
}

// InsufficientStockError carries every short item of a request.
type InsufficientStockError struct {
	Items []ShortItem
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("item %d@%d available=%s < requested=%s", it.ItemID, it.WarehouseID, it.Available, it.Requested))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Is reports sentinel equality for errors.Is.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// StaleDocumentError reports a prerequisite document in an unexpected status.
type StaleDocumentError struct {
	Kind     string
	Code     string
	Expected string
	Actual   string
}

func (e *StaleDocumentError) Error() string {
	return fmt.Sprintf("stale document: %s %s is %s, expected %s", e.Kind, e.Code, e.Actual, e.Expected)
}

// Is reports sentinel equality for errors.Is.
func (e *StaleDocumentError) Is(target error) bool { return target == ErrStaleDocument }

// Invariant wraps ErrInvariantViolation with detail.
func Invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
