package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment/paymenttest"
	"github.com/storefront/checkout-api/internal/store/memstore"
)

var testAddress = models.Address{
	FullName:   "Asha Rao",
	Line1:      "12 MG Road",
	City:       "Bengaluru",
	PostalCode: "560001",
	Country:    "IN",
}

var (
	admin = Actor{UserID: "admin-1", Role: models.RoleAdmin}
	alice = Actor{UserID: "alice", Role: models.RoleUser}
	bob   = Actor{UserID: "bob", Role: models.RoleUser}
)

type fixture struct {
	store    *memstore.Store
	gateway  *paymenttest.Gateway
	events   *events.Recorder
	locker   *cache.MemoryLocker
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
	products *ProductService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	gw := paymenttest.New()
	rec := &events.Recorder{}
	locker := cache.NewMemoryLocker(time.Minute)
	m := metrics.NewNoop()

	return &fixture{
		store:   st,
		gateway: gw,
		events:  rec,
		locker:  locker,
		carts:   NewCartService(st, st, st, m),
		checkout: NewCheckoutService(CheckoutDeps{
			Products:  st,
			Carts:     st,
			Orders:    st,
			Tx:        st,
			Gateway:   gw,
			Locker:    locker,
			Publisher: rec,
			Pricing:   DefaultPricing(),
			Metrics:   m,
		}),
		orders: NewOrderService(OrderDeps{
			Orders:    st,
			Products:  st,
			Tx:        st,
			Gateway:   gw,
			Locker:    locker,
			Publisher: rec,
			Metrics:   m,
		}),
		products: NewProductService(st, m),
	}
}

func (f *fixture) addProduct(t *testing.T, id, price string, discount, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:        id,
		Name:      "Product " + id,
		Price:     decimal.RequireFromString(price),
		Discount:  discount,
		Stock:     stock,
		Category:  "general",
		Images:    []models.Image{{URL: "https://img.example/" + id + ".jpg"}},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// paidIntent fills the user's cart, opens an intent and marks it succeeded
func (f *fixture) paidIntent(t *testing.T, userID string, lines map[string]int) string {
	t.Helper()
	ctx := context.Background()
	for pid, qty := range lines {
		_, err := f.carts.AddItem(ctx, userID, pid, qty)
		require.NoError(t, err)
	}
	res, err := f.checkout.CreatePaymentIntent(ctx, userID, IntentRequest{ShippingAddress: testAddress, BillingAddress: testAddress})
	require.NoError(t, err)
	f.gateway.Succeed(res.PaymentIntentID)
	return res.PaymentIntentID
}

func finalizeReq(intentID string) FinalizeRequest {
	return FinalizeRequest{
		PaymentIntentID: intentID,
		ShippingAddress: testAddress,
		BillingAddress:  testAddress,
		PaymentMethod:   models.PaymentMethodCard,
	}
}

// placeOrder runs the whole checkout for one product line
func (f *fixture) placeOrder(t *testing.T, userID, productID string, qty int) *models.Order {
	t.Helper()
	intentID := f.paidIntent(t, userID, map[string]int{productID: qty})
	o, created, err := f.checkout.FinalizeOrder(context.Background(), userID, finalizeReq(intentID))
	require.NoError(t, err)
	require.True(t, created)
	return o
}
