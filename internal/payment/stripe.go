package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Stripe implements Gateway over the Stripe payment intents API
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe builds a client that never retries on its own. timeout bounds a
// single HTTP exchange with Stripe.
func NewStripe(secretKey, webhookSecret string, timeout time.Duration) *Stripe {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &Stripe{
		api: client.New(secretKey, &stripe.Backends{
			API:     backend,
			Uploads: stripe.GetBackend(stripe.UploadsBackend),
		}),
		webhookSecret: webhookSecret,
	}
}

// Gateway calls are not abandoned when the caller goes away; a created
// intent or issued refund must be observed to completion.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (s *Stripe) CreateIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountMinor),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = detach(ctx)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, wrapStripeError("create intent", err)
	}
	return toIntent(pi), nil
}

func (s *Stripe) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = detach(ctx)

	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, wrapStripeError("retrieve intent", err)
	}
	return toIntent(pi), nil
}

func (s *Stripe) Refund(ctx context.Context, intentID string) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = detach(ctx)

	r, err := s.api.Refunds.New(params)
	if err != nil {
		return Refund{}, wrapStripeError("refund", err)
	}
	return Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: ev.ID, Type: EventType(ev.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("decode payment intent of event %s: %w", ev.ID, err)
		}
		intent := toIntent(&pi)
		out.Intent = &intent
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       IntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

// wrapStripeError keeps card and request errors readable for the customer
// and hides everything else behind a generic message.
func wrapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		perr := &Error{Op: op, Code: string(serr.Code), Message: "payment provider error", Err: err}
		switch serr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
			if serr.Msg != "" {
				perr.Message = serr.Msg
			}
		}
		return perr
	}
	return &Error{Op: op, Message: "payment provider unavailable", Err: err}
}

var _ Gateway = (*Stripe)(nil)
