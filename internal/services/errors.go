package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/checkout-api/internal/models"
)

// Business rule violations. Handlers map these to 4xx responses.
var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrNotCancellable      = errors.New("order cannot be cancelled")
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
	ErrOrderBusy           = errors.New("order is being updated, try again")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthenticated     = errors.New("authentication required")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInactiveAccount     = errors.New("account is deactivated")
	ErrEmailTaken          = errors.New("email already registered")
	ErrOwnAccount          = errors.New("admins cannot remove their own access")
)

// FieldError is one rejected input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports structurally invalid input
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Invalid builds a single-field ValidationError
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// InsufficientStockError names the first line that cannot be fulfilled
type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock for " + e.Name
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == models.ErrInsufficientStock
}

// ProductUnavailableError is returned when a cart line references a product
// that no longer exists or was deactivated
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s is no longer available", e.ProductID)
}

// TransitionError is an order status change the state machine rejects
type TransitionError struct {
	From models.OrderStatus
	To   models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot change order status from %s to %s", e.From, e.To)
}

// IsBusiness reports whether err is a rule violation rather than a fault
func IsBusiness(err error) bool {
	var (
		stock *InsufficientStockError
		gone  *ProductUnavailableError
		tr    *TransitionError
	)
	switch {
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrPaymentNotCompleted),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrCheckoutInProgress),
		errors.Is(err, ErrOrderBusy),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrOwnAccount),
		errors.Is(err, ErrAmountMismatch),
		errors.As(err, &stock),
		errors.As(err, &gone),
		errors.As(err, &tr):
		return true
	}
	return false
}
