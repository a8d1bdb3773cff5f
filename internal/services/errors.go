// internal/services/errors.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInvalidAddress          = errors.New("invalid shipping address")
	ErrOrderAlreadyPaid        = errors.New("order already paid")
	ErrOrderNotPayable         = errors.New("order cannot be paid in its current state")
	ErrPaymentInProgress       = errors.New("a payment attempt for this order is still pending")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrReceiptNotReady         = errors.New("purchase is not ready for a receipt")
	ErrReceiptUnavailable      = errors.New("receipt archive is not available")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrProductUnavailable      = errors.New("product is not available")

	ErrCartItemNotFound  = errors.New("cart item not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInventoryNotFound = errors.New("product inventory not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPurchaseNotFound  = errors.New("purchase not found")
)

// ValidationError is a client input problem; it is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StockError carries the numbers behind an ErrInsufficientStock.
type StockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, only %d available",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
