// Package payment adapts the external payment processor's payment intent
// API. Every call is a synchronous network request without retries; failures
// surface as *Error.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// IntentStatus is the processor-side state of a payment intent
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentCanceled              IntentStatus = "canceled"
	IntentSucceeded             IntentStatus = "succeeded"
)

// Metadata keys attached to every intent for later reconciliation
const (
	MetaUserID          = "userId"
	MetaCartID          = "cartId"
	MetaShippingAddress = "shippingAddress"
	MetaBillingAddress  = "billingAddress"
)

// Intent is the subset of a payment intent the checkout needs
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	Amount       int64
	Currency     string
	Metadata     map[string]string
}

// Refund is the result of a refund request
type Refund struct {
	ID     string
	Status string
}

// EventType names the webhook notifications the service reacts to
type EventType string

const (
	EventIntentSucceeded EventType = "payment_intent.succeeded"
	EventIntentFailed    EventType = "payment_intent.payment_failed"
)

// Event is a verified webhook notification. Intent is nil for event types
// that do not carry a payment intent.
type Event struct {
	ID     string
	Type   EventType
	Intent *Intent
}

// Gateway is the payment processor boundary
type Gateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
	Refund(ctx context.Context, intentID string) (Refund, error)
	// ParseWebhook verifies signature over payload and decodes the event
	ParseWebhook(payload []byte, signature string) (Event, error)
}

// ErrInvalidSignature is returned by ParseWebhook for unverifiable payloads
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Error is an upstream failure. Message is safe to show to the end user;
// Code is the processor's error code when one was returned.
type Error struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment %s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("payment %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
