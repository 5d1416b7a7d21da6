package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
)

var intentReq = IntentRequest{ShippingAddress: testAddress, BillingAddress: testAddress}

func TestCreatePaymentIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("cart emptied after use", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "10", 0, 5)
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
		require.NoError(t, err)
		_, err = f.carts.Clear(ctx, alice.UserID)
		require.NoError(t, err)

		_, err = f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("invalid address", func(t *testing.T) {
		f := newFixture(t)
		bad := intentReq
		bad.ShippingAddress.City = ""
		_, err := f.checkout.CreatePaymentIntent(ctx, alice.UserID, bad)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "shipping_address.city", verr.Fields[0].Field)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "10", 0, 1)
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 2)
		require.NoError(t, err, "cart quantities are not clamped to stock")

		_, err = f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		var serr *InsufficientStockError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "insufficient stock for Product p1", err.Error())
		assert.ErrorIs(t, err, models.ErrInsufficientStock)
	})

	t.Run("product removed from catalog", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "10", 0, 5)
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
		require.NoError(t, err)
		require.NoError(t, f.store.DeleteProduct(ctx, "p1"))

		_, err = f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		var gone *ProductUnavailableError
		require.ErrorAs(t, err, &gone)
		assert.Equal(t, "product p1 is no longer available", err.Error())
	})

	t.Run("stored line outside quantity bounds", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "10", 0, 5)
		require.NoError(t, f.store.SaveCart(ctx, &models.Cart{
			ID:     "c1",
			UserID: alice.UserID,
			Items:  []models.CartItem{{ProductID: "p1", Quantity: -3}},
		}))

		_, err := f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, 5, f.stock(t, "p1"))
	})

	t.Run("prices the cart", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 2)
		require.NoError(t, err)

		res, err := f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		require.NoError(t, err)
		assert.Equal(t, "48.2", res.Amount.String())
		assert.Equal(t, "5", res.Quote.Shipping.String())
		assert.Equal(t, "3.2", res.Quote.Tax.String())
		assert.NotEmpty(t, res.ClientSecret)

		in, ok := f.gateway.Intent(res.PaymentIntentID)
		require.True(t, ok)
		assert.Equal(t, int64(4820), in.Amount)
		assert.Equal(t, "inr", in.Currency)
		assert.Equal(t, alice.UserID, in.Metadata[payment.MetaUserID])

		var addr models.Address
		require.NoError(t, json.Unmarshal([]byte(in.Metadata[payment.MetaShippingAddress]), &addr))
		assert.Equal(t, testAddress, addr)

		assert.Equal(t, 5, f.stock(t, "p1"), "opening an intent reserves nothing")
	})

	t.Run("gateway failure", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
		require.NoError(t, err)
		f.gateway.CreateErr = &payment.Error{Op: "create intent", Message: "Your card was declined."}

		_, err = f.checkout.CreatePaymentIntent(ctx, alice.UserID, intentReq)
		var perr *payment.Error
		assert.ErrorAs(t, err, &perr)
	})
}

var orderNumberPattern = regexp.MustCompile(`^ORD-\d+-[0-9A-F]{6}$`)

func TestFinalizeOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates paid order and clears cart", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		f.addProduct(t, "p2", "100", 25, 3)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 2, "p2": 1})

		o, created, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		require.NoError(t, err)
		assert.True(t, created)

		assert.Equal(t, models.OrderStatusProcessing, o.Status)
		assert.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
		assert.Equal(t, intentID, o.PaymentIntentID)
		assert.Regexp(t, orderNumberPattern, o.OrderNumber)
		assert.Equal(t, "115", o.Subtotal.String())
		assert.Equal(t, "0", o.Shipping.String())
		assert.Equal(t, "9.2", o.Tax.String())
		assert.Equal(t, "124.2", o.Total.String())

		require.Len(t, o.Items, 2)
		byID := map[string]models.OrderItem{}
		for _, it := range o.Items {
			byID[it.ProductID] = it
		}
		assert.Equal(t, "75", byID["p2"].Price.String(), "items snapshot the discounted price")
		assert.Equal(t, "Product p2", byID["p2"].Name)
		assert.Equal(t, "https://img.example/p2.jpg", byID["p2"].Image)

		assert.Equal(t, 3, f.stock(t, "p1"))
		assert.Equal(t, 2, f.stock(t, "p2"))

		cart, err := f.store.GetCart(ctx, alice.UserID)
		require.NoError(t, err)
		assert.True(t, cart.IsEmpty())

		assert.Equal(t, []events.Type{events.OrderCreated}, f.events.Types())
	})

	t.Run("repeat call returns the same order", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 2})

		first, created, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		require.NoError(t, err)
		require.True(t, created)

		again, created, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, 3, f.stock(t, "p1"), "stock is taken once")
		assert.Len(t, f.events.Events(), 1)
	})

	t.Run("payment not completed", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})
		f.gateway.SetStatus(intentID, payment.IntentRequiresAction)

		_, _, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		assert.ErrorIs(t, err, ErrPaymentNotCompleted)
		assert.Equal(t, 5, f.stock(t, "p1"))
		_, err = f.store.GetOrderByPaymentIntent(ctx, intentID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("intent of another user", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})

		_, _, err := f.checkout.FinalizeOrder(ctx, bob.UserID, finalizeReq(intentID))
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("stock sold out after intent leaves no trace", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		p2 := f.addProduct(t, "p2", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 2, "p2": 2})

		p2.Stock = 1
		require.NoError(t, f.store.UpdateProduct(ctx, p2))

		_, _, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		var serr *InsufficientStockError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "p2", serr.ProductID)

		assert.Equal(t, 5, f.stock(t, "p1"), "no partial decrement")
		assert.Equal(t, 1, f.stock(t, "p2"))
		cart, err := f.store.GetCart(ctx, alice.UserID)
		require.NoError(t, err)
		assert.Len(t, cart.Items, 2, "cart survives a failed checkout")
		assert.Empty(t, f.events.Events())
	})

	t.Run("cart emptied after payment", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})
		_, err := f.carts.Clear(ctx, alice.UserID)
		require.NoError(t, err)

		_, _, err = f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		assert.ErrorIs(t, err, ErrEmptyCart)
	})

	t.Run("cart changed after intent", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})
		_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
		require.NoError(t, err)

		_, _, err = f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.Equal(t, 5, f.stock(t, "p1"))
	})

	t.Run("concurrent finalize of the same intent", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})

		release, ok, err := f.locker.TryLock(ctx, "checkout:"+intentID)
		require.NoError(t, err)
		require.True(t, ok)

		_, _, err = f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		assert.ErrorIs(t, err, ErrCheckoutInProgress)

		release()
		_, created, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newFixture(t)
		req := finalizeReq("")
		req.PaymentMethod = "cash"
		_, _, err := f.checkout.FinalizeOrder(ctx, alice.UserID, req)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		fields := map[string]bool{}
		for _, fe := range verr.Fields {
			fields[fe.Field] = true
		}
		assert.True(t, fields["payment_intent_id"])
		assert.True(t, fields["payment_method"])
	})
}

func TestFinalizeLastUnitRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "60", 0, 1)

	users := []string{"u1", "u2", "u3", "u4"}
	intents := make([]string, len(users))
	for i, u := range users {
		intents[i] = f.paidIntent(t, u, map[string]int{"p1": 1})
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		soldOuts int
	)
	for i, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.checkout.FinalizeOrder(ctx, u, finalizeReq(intents[i]))
			mu.Lock()
			defer mu.Unlock()
			var serr *InsufficientStockError
			switch {
			case err == nil:
				winners++
			case errors.As(err, &serr):
				soldOuts++
			default:
				t.Errorf("unexpected error for %s: %v", u, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, len(users)-1, soldOuts)
	assert.Equal(t, 0, f.stock(t, "p1"))
}

func TestHandlePaymentEvent(t *testing.T) {
	ctx := context.Background()

	succeeded := func(f *fixture, intentID string) payment.Event {
		in, _ := f.gateway.Intent(intentID)
		return payment.Event{ID: "evt_" + intentID, Type: payment.EventIntentSucceeded, Intent: &in}
	}

	t.Run("creates the order once", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 2})

		require.NoError(t, f.checkout.HandlePaymentEvent(ctx, succeeded(f, intentID)))
		require.NoError(t, f.checkout.HandlePaymentEvent(ctx, succeeded(f, intentID)))

		o, err := f.store.GetOrderByPaymentIntent(ctx, intentID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentMethodCard, o.PaymentMethod)
		assert.Equal(t, testAddress, o.ShippingAddress)
		assert.Equal(t, 3, f.stock(t, "p1"))

		// the client confirming afterwards sees the webhook's order
		again, created, err := f.checkout.FinalizeOrder(ctx, alice.UserID, finalizeReq(intentID))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, o.ID, again.ID)
	})

	t.Run("business failure is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		p := f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 2})
		p.Stock = 0
		require.NoError(t, f.store.UpdateProduct(ctx, p))

		assert.NoError(t, f.checkout.HandlePaymentEvent(ctx, succeeded(f, intentID)))
		_, err := f.store.GetOrderByPaymentIntent(ctx, intentID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("missing metadata is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		ev := payment.Event{Type: payment.EventIntentSucceeded, Intent: &payment.Intent{ID: "pi_x", Status: payment.IntentSucceeded}}
		assert.NoError(t, f.checkout.HandlePaymentEvent(ctx, ev))
	})

	t.Run("transient failure asks for redelivery", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		intentID := f.paidIntent(t, alice.UserID, map[string]int{"p1": 1})
		f.gateway.RetrieveErr = &payment.Error{Op: "retrieve intent", Message: "payment provider unavailable"}

		assert.Error(t, f.checkout.HandlePaymentEvent(ctx, succeeded(f, intentID)))
	})

	t.Run("failed and unknown events", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.checkout.HandlePaymentEvent(ctx, payment.Event{Type: payment.EventIntentFailed, Intent: &payment.Intent{ID: "pi_1"}}))
		assert.NoError(t, f.checkout.HandlePaymentEvent(ctx, payment.Event{Type: "charge.refunded"}))
	})
}
