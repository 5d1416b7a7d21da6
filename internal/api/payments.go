package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/payment"
)

// Stripe caps webhook payloads well below this
const maxWebhookBytes = 64 << 10

// PaymentConfigHandler handles GET /api/v1/payments/config
func (a *App) PaymentConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"publishable_key": a.config.Stripe.PublishableKey,
		"currency":        a.config.Checkout.Currency,
	})
}

// WebhookHandler handles POST /api/v1/payments/webhook. A 500 makes the
// processor redeliver; everything it should not retry is acknowledged.
func (a *App) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	log := logging.FromCtx(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "cannot read body"})
		return
	}

	ev, err := a.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			log.Warn("rejected webhook", "error", err)
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid signature"})
			return
		}
		log.Error("cannot decode webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid payload"})
		return
	}

	if err := a.checkoutService.HandlePaymentEvent(r.Context(), ev); err != nil {
		log.Error("webhook processing failed", "event_id", ev.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "processing failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
