package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v81"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestParseWebhook(t *testing.T) {
	s := NewStripe("sk_test", testWebhookSecret, time.Second)
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"object": "payment_intent",
			"status": "succeeded",
			"amount": 4820,
			"currency": "inr",
			"metadata": {"userId": "u1", "cartId": "c1"}
		}}
	}`)

	t.Run("valid signature", func(t *testing.T) {
		ev, err := s.ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, EventIntentSucceeded, ev.Type)
		require.NotNil(t, ev.Intent)
		assert.Equal(t, "pi_1", ev.Intent.ID)
		assert.Equal(t, IntentSucceeded, ev.Intent.Status)
		assert.Equal(t, int64(4820), ev.Intent.Amount)
		assert.Equal(t, "u1", ev.Intent.Metadata[MetaUserID])
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := s.ParseWebhook(payload, sign(payload, "whsec_other", time.Now()))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := sign(payload, testWebhookSecret, time.Now())
		_, err := s.ParseWebhook(append([]byte(" "), payload...), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		_, err := s.ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("event without intent", func(t *testing.T) {
		other := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
		ev, err := s.ParseWebhook(other, sign(other, testWebhookSecret, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, EventType("customer.created"), ev.Type)
		assert.Nil(t, ev.Intent)
	})
}

func TestWrapStripeError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		code    string
	}{
		{
			name:    "card error is exposed",
			err:     &stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."},
			message: "Your card was declined.",
			code:    "card_declined",
		},
		{
			name:    "api error is hidden",
			err:     &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "internal stripe detail"},
			message: "payment provider error",
		},
		{
			name:    "transport error",
			err:     errors.New("dial tcp: i/o timeout"),
			message: "payment provider unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapStripeError("refund", tt.err)
			var perr *Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, "refund", perr.Op)
			assert.Equal(t, tt.message, perr.Message)
			assert.Equal(t, tt.code, perr.Code)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
