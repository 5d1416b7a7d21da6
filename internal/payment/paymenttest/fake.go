// Package paymenttest provides an in-memory payment.Gateway for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/storefront/checkout-api/internal/payment"
)

// Gateway records every call and lets tests steer intent states.
type Gateway struct {
	mu      sync.Mutex
	seq     int
	intents map[string]payment.Intent
	refunds []string

	// Set to make the matching call fail
	CreateErr   error
	RetrieveErr error
	RefundErr   error

	// Events returned by ParseWebhook keyed by signature
	Events map[string]payment.Event
}

func New() *Gateway {
	return &Gateway{intents: map[string]payment.Intent{}, Events: map[string]payment.Event{}}
}

func (g *Gateway) CreateIntent(_ context.Context, amountMinor int64, currency string, metadata map[string]string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return payment.Intent{}, g.CreateErr
	}
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	in := payment.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       payment.IntentRequiresPaymentMethod,
		Amount:       amountMinor,
		Currency:     currency,
		Metadata:     meta,
	}
	g.intents[id] = in
	return in, nil
}

func (g *Gateway) RetrieveIntent(_ context.Context, id string) (payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RetrieveErr != nil {
		return payment.Intent{}, g.RetrieveErr
	}
	in, ok := g.intents[id]
	if !ok {
		return payment.Intent{}, &payment.Error{Op: "retrieve intent", Code: "resource_missing", Message: "No such payment_intent: " + id}
	}
	return in, nil
}

func (g *Gateway) Refund(_ context.Context, intentID string) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return payment.Refund{}, g.RefundErr
	}
	g.refunds = append(g.refunds, intentID)
	return payment.Refund{ID: "re_" + intentID, Status: "succeeded"}, nil
}

func (g *Gateway) ParseWebhook(_ []byte, signature string) (payment.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.Events[signature]
	if !ok {
		return payment.Event{}, payment.ErrInvalidSignature
	}
	return ev, nil
}

// Succeed marks the intent as paid
func (g *Gateway) Succeed(id string) {
	g.SetStatus(id, payment.IntentSucceeded)
}

func (g *Gateway) SetStatus(id string, status payment.IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in := g.intents[id]
	in.ID = id
	in.Status = status
	g.intents[id] = in
}

// PutIntent stores an intent as is, for tests that bypass CreateIntent
func (g *Gateway) PutIntent(in payment.Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[in.ID] = in
}

func (g *Gateway) Intent(id string) (payment.Intent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[id]
	return in, ok
}

// Refunds lists the intent ids refunded so far
func (g *Gateway) Refunds() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

var _ payment.Gateway = (*Gateway)(nil)
