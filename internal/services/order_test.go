package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
	"github.com/storefront/checkout-api/internal/payment/paymenttest"
)

func TestCancelPaidOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "20", 0, 5)
	o := f.placeOrder(t, alice.UserID, "p1", 2)
	require.Equal(t, 3, f.stock(t, "p1"))

	cancelled, err := f.orders.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, []string{o.PaymentIntentID}, f.gateway.Refunds())
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderCancelled}, f.events.Types())

	_, err = f.orders.Cancel(ctx, alice, o.ID)
	assert.ErrorIs(t, err, ErrNotCancellable, "a cancelled order cannot be cancelled twice")
	assert.Len(t, f.gateway.Refunds(), 1)
}

func TestCancelUnpaidOrderSkipsRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "20", 0, 5)
	require.NoError(t, f.store.CreateOrder(ctx, &models.Order{
		ID:            "o1",
		OrderNumber:   "ORD-1",
		UserID:        alice.UserID,
		Items:         []models.OrderItem{{ProductID: "p1", Quantity: 1, Price: decimal.NewFromInt(20)}},
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		CreatedAt:     time.Now(),
	}))

	o, err := f.orders.Cancel(ctx, alice, "o1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, o.PaymentStatus)
	assert.Empty(t, f.gateway.Refunds())
	assert.Equal(t, 6, f.stock(t, "p1"))
}

func TestCancelRules(t *testing.T) {
	ctx := context.Background()

	t.Run("shipped order", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 1)
		_, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
		require.NoError(t, err)

		_, err = f.orders.Cancel(ctx, alice, o.ID)
		assert.ErrorIs(t, err, ErrNotCancellable)
		assert.Empty(t, f.gateway.Refunds())
	})

	t.Run("someone else's order", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 1)

		_, err := f.orders.Cancel(ctx, bob, o.ID)
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = f.orders.Cancel(ctx, admin, o.ID)
		assert.ErrorIs(t, err, ErrForbidden, "admins cancel through the status endpoint")
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orders.Cancel(ctx, alice, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("refund failure changes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 2)
		f.gateway.RefundErr = &payment.Error{Op: "refund", Message: "payment provider unavailable"}

		_, err := f.orders.Cancel(ctx, alice, o.ID)
		var perr *payment.Error
		require.ErrorAs(t, err, &perr)

		stored, err := f.store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusProcessing, stored.Status)
		assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
		assert.Equal(t, 3, f.stock(t, "p1"))
	})

	t.Run("deleted product is skipped", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 2)
		require.NoError(t, f.store.DeleteProduct(ctx, "p1"))

		cancelled, err := f.orders.Cancel(ctx, alice, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	})

	t.Run("order locked by another request", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 1)
		release, ok, err := f.locker.TryLock(ctx, "order:"+o.ID)
		require.NoError(t, err)
		require.True(t, ok)
		defer release()

		_, err = f.orders.Cancel(ctx, alice, o.ID)
		assert.ErrorIs(t, err, ErrOrderBusy)
		assert.Empty(t, f.gateway.Refunds())
	})
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("admin only", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 1)
		_, err := f.orders.SetStatus(ctx, alice, o.ID, models.OrderStatusShipped, "")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown status", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orders.SetStatus(ctx, admin, "o1", "lost", "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "status", verr.Fields[0].Field)
	})

	t.Run("follows the lifecycle", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 1)

		_, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusDelivered, "")
		var terr *TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, models.OrderStatusProcessing, terr.From)
		assert.Equal(t, models.OrderStatusDelivered, terr.To)

		shipped, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
		require.NoError(t, err)
		assert.Equal(t, "TRK1", shipped.TrackingNumber)
		assert.Nil(t, shipped.DeliveredAt)

		_, err = f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "")
		assert.ErrorAs(t, err, &terr, "re-shipping needs a new tracking number")
		_, err = f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
		assert.ErrorAs(t, err, &terr)

		fixed, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK2")
		require.NoError(t, err)
		assert.Equal(t, "TRK2", fixed.TrackingNumber)

		_, err = f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusCancelled, "")
		assert.ErrorAs(t, err, &terr, "shipped orders cannot be cancelled")

		delivered, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusDelivered, "")
		require.NoError(t, err)
		require.NotNil(t, delivered.DeliveredAt)
		assert.Equal(t, "TRK2", delivered.TrackingNumber)

		stored, err := f.store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusDelivered, stored.Status)
		assert.NotNil(t, stored.DeliveredAt)

		_, err = f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK3")
		assert.ErrorAs(t, err, &terr, "delivered is terminal")

		assert.Equal(t, []events.Type{
			events.OrderCreated,
			events.OrderStatusChanged,
			events.OrderStatusChanged,
			events.OrderStatusChanged,
		}, f.events.Types())
	})

	t.Run("admin cancel refunds and restocks", func(t *testing.T) {
		f := newFixture(t)
		f.addProduct(t, "p1", "20", 0, 5)
		o := f.placeOrder(t, alice.UserID, "p1", 2)

		cancelled, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusCancelled, "")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
		assert.Equal(t, 5, f.stock(t, "p1"))
		assert.Len(t, f.gateway.Refunds(), 1)
	})
}

// shipDuringRefund moves the order to shipped while the refund call is in
// flight, as a concurrent admin request would
type shipDuringRefund struct {
	*paymenttest.Gateway
	orders  *OrderService
	orderID string
	err     error
}

func (g *shipDuringRefund) Refund(ctx context.Context, intentID string) (payment.Refund, error) {
	_, g.err = g.orders.SetStatus(ctx, admin, g.orderID, models.OrderStatusShipped, "TRK1")
	return g.Gateway.Refund(ctx, intentID)
}

func TestStatusChangeDuringRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "20", 0, 5)
	o := f.placeOrder(t, alice.UserID, "p1", 2)

	gw := &shipDuringRefund{Gateway: f.gateway, orderID: o.ID}
	svc := NewOrderService(OrderDeps{
		Orders:    f.store,
		Products:  f.store,
		Tx:        f.store,
		Gateway:   gw,
		Locker:    f.locker,
		Publisher: f.events,
		Metrics:   metrics.NewNoop(),
	})
	gw.orders = svc

	cancelled, err := svc.Cancel(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, gw.err, ErrOrderBusy, "the admin change waits for the cancellation")
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 5, f.stock(t, "p1"))

	_, err = svc.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
	var terr *TransitionError
	assert.ErrorAs(t, err, &terr, "the lock is released afterwards")
}

func TestSetStatusRespectsOrderLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "20", 0, 5)
	o := f.placeOrder(t, alice.UserID, "p1", 1)

	release, ok, err := f.locker.TryLock(ctx, "order:"+o.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
	assert.ErrorIs(t, err, ErrOrderBusy)
	release()

	shipped, err := f.orders.SetStatus(ctx, admin, o.ID, models.OrderStatusShipped, "TRK1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
}

func TestOrderVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "20", 0, 50)
	o := f.placeOrder(t, alice.UserID, "p1", 1)
	f.placeOrder(t, alice.UserID, "p1", 1)
	f.placeOrder(t, bob.UserID, "p1", 1)

	_, err := f.orders.GetOrder(ctx, bob, o.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	got, err := f.orders.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	mine, page, err := f.orders.ListOrders(ctx, alice, models.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, 1, page.CurrentPage)

	// a user filter from the caller is ignored
	mine, _, err = f.orders.ListOrders(ctx, bob, models.OrderFilter{UserID: alice.UserID})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, bob.UserID, mine[0].UserID)

	_, _, err = f.orders.ListAllOrders(ctx, alice, models.OrderFilter{})
	assert.ErrorIs(t, err, ErrForbidden)
	all, page, err := f.orders.ListAllOrders(ctx, admin, models.OrderFilter{Page: models.Page{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, page.TotalPages)

	_, _, err = f.orders.ListAllOrders(ctx, admin, models.OrderFilter{Status: "lost"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestNormalizePage(t *testing.T) {
	assert.Equal(t, models.Page{Page: 1, Limit: 10}, normalizePage(models.Page{}))
	assert.Equal(t, models.Page{Page: 3, Limit: 100}, normalizePage(models.Page{Page: 3, Limit: 500}))
}
