package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
)

// ErrAmountMismatch means the cart changed between intent creation and
// finalization, so the charged amount no longer matches the order
var ErrAmountMismatch = errors.New("payment amount does not match order total")

// IntentRequest starts a checkout
type IntentRequest struct {
	ShippingAddress models.Address `json:"shipping_address" validate:"required"`
	BillingAddress  models.Address `json:"billing_address" validate:"required"`
}

// IntentResult is handed to the client to confirm the payment
type IntentResult struct {
	ClientSecret    string          `json:"client_secret"`
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Quote           Quote           `json:"quote"`
}

// FinalizeRequest turns a succeeded intent into an order
type FinalizeRequest struct {
	PaymentIntentID string               `json:"payment_intent_id" validate:"required"`
	ShippingAddress models.Address       `json:"shipping_address" validate:"required"`
	BillingAddress  models.Address       `json:"billing_address" validate:"required"`
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=card paypal apple_pay google_pay"`
}

// CheckoutService orchestrates payment intents and order creation
type CheckoutService struct {
	products  ProductStore
	carts     CartStore
	orders    OrderStore
	tx        Transactor
	gateway   payment.Gateway
	locker    cache.Locker
	publisher events.Publisher
	pricing   Pricing
	metrics   *metrics.AppMetrics
	now       func() time.Time
}

type CheckoutDeps struct {
	Products  ProductStore
	Carts     CartStore
	Orders    OrderStore
	Tx        Transactor
	Gateway   payment.Gateway
	Locker    cache.Locker
	Publisher events.Publisher
	Pricing   Pricing
	Metrics   *metrics.AppMetrics
}

func NewCheckoutService(d CheckoutDeps) *CheckoutService {
	return &CheckoutService{
		products:  d.Products,
		carts:     d.Carts,
		orders:    d.Orders,
		tx:        d.Tx,
		gateway:   d.Gateway,
		locker:    d.Locker,
		publisher: d.Publisher,
		pricing:   d.Pricing,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

// CreatePaymentIntent prices the user's cart and opens a payment intent for
// the total. Nothing is reserved: stock is only checked.
func (s *CheckoutService) CreatePaymentIntent(ctx context.Context, userID string, req IntentRequest) (*IntentResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && cart.IsEmpty()) {
		s.recordFailure(ctx, "empty_cart")
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := s.priceLines(ctx, cart)
	if err != nil {
		s.recordFailure(ctx, failureReason(err))
		return nil, err
	}
	quote := s.pricing.Quote(lines.subtotal)

	shipping, err := json.Marshal(req.ShippingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	billing, err := json.Marshal(req.BillingAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode billing address: %w", err)
	}

	intent, err := s.gateway.CreateIntent(ctx, MinorUnits(quote.Total), s.pricing.Currency, map[string]string{
		payment.MetaUserID:          userID,
		payment.MetaCartID:          cart.ID,
		payment.MetaShippingAddress: string(shipping),
		payment.MetaBillingAddress:  string(billing),
	})
	if err != nil {
		s.recordFailure(ctx, "gateway")
		return nil, err
	}

	s.metrics.PaymentIntentsCreated.Add(ctx, 1, s.metrics.Attrs(attribute.String("currency", s.pricing.Currency)))
	logging.FromCtx(ctx).InfoContext(ctx, "payment intent created",
		"user_id", userID,
		"payment_intent_id", intent.ID,
		"amount_minor", intent.Amount,
	)

	return &IntentResult{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		Amount:          quote.Total,
		Currency:        s.pricing.Currency,
		Quote:           quote,
	}, nil
}

// FinalizeOrder creates the order for a succeeded payment intent. created is
// false when the order already existed and is returned unchanged.
func (s *CheckoutService) FinalizeOrder(ctx context.Context, userID string, req FinalizeRequest) (*models.Order, bool, error) {
	if err := Validate(req); err != nil {
		return nil, false, err
	}
	return s.finalize(ctx, userID, req)
}

func (s *CheckoutService) finalize(ctx context.Context, userID string, req FinalizeRequest) (*models.Order, bool, error) {
	log := logging.FromCtx(ctx).With("payment_intent_id", req.PaymentIntentID, "user_id", userID)

	if o, err := s.existingOrder(ctx, userID, req.PaymentIntentID); o != nil || err != nil {
		return o, false, err
	}

	release, ok, err := s.locker.TryLock(ctx, "checkout:"+req.PaymentIntentID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire checkout lock: %w", err)
	}
	if !ok {
		return nil, false, ErrCheckoutInProgress
	}
	defer release()

	// the previous holder may have finished between the first check and the lock
	if o, err := s.existingOrder(ctx, userID, req.PaymentIntentID); o != nil || err != nil {
		return o, false, err
	}

	intent, err := s.gateway.RetrieveIntent(ctx, req.PaymentIntentID)
	if err != nil {
		s.recordFailure(ctx, "gateway")
		return nil, false, err
	}
	if intent.Status != payment.IntentSucceeded {
		s.recordFailure(ctx, "payment_not_completed")
		return nil, false, ErrPaymentNotCompleted
	}
	if owner := intent.Metadata[payment.MetaUserID]; owner != "" && owner != userID {
		log.Warn("payment intent belongs to another user", "owner", owner)
		return nil, false, ErrForbidden
	}

	order, stock, err := s.placeOrder(ctx, userID, req, intent)
	if errors.Is(err, models.ErrDuplicate) {
		existing, gerr := s.orders.GetOrderByPaymentIntent(ctx, req.PaymentIntentID)
		if gerr != nil {
			return nil, false, fmt.Errorf("failed to load concurrently created order: %w", gerr)
		}
		log.Info("order already created by a concurrent request", "order_id", existing.ID)
		return existing, false, nil
	}
	if err != nil {
		s.recordFailure(ctx, failureReason(err))
		return nil, false, err
	}

	s.metrics.OrdersCreated.Add(ctx, 1, s.metrics.Attrs(
		attribute.String("payment_method", string(order.PaymentMethod)),
	))
	s.metrics.RevenueTotal.Add(ctx, order.Total.InexactFloat64(), s.metrics.Attrs(
		attribute.String("currency", s.pricing.Currency),
	))
	for id, left := range stock {
		s.metrics.InventoryLevel.Record(ctx, int64(left), s.metrics.Attrs(attribute.String("product_id", id)))
	}

	log.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total.String())
	s.publish(ctx, events.OrderCreated, order)
	return order, true, nil
}

func (s *CheckoutService) existingOrder(ctx context.Context, userID, intentID string) (*models.Order, error) {
	o, err := s.orders.GetOrderByPaymentIntent(ctx, intentID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up order for intent: %w", err)
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

// placeOrder snapshots the cart, takes the stock and records the order in
// one transaction. It returns the remaining stock per product.
func (s *CheckoutService) placeOrder(ctx context.Context, userID string, req FinalizeRequest, intent payment.Intent) (*models.Order, map[string]int, error) {
	var (
		order     *models.Order
		remaining map[string]int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetCart(ctx, userID)
		if errors.Is(err, models.ErrNotFound) || (err == nil && cart.IsEmpty()) {
			return ErrEmptyCart
		}
		if err != nil {
			return fmt.Errorf("failed to get cart: %w", err)
		}

		lines, err := s.priceLines(ctx, cart)
		if err != nil {
			return err
		}

		remaining = make(map[string]int, len(lines.items))
		for i, it := range lines.items {
			if err := s.products.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
				if errors.Is(err, models.ErrInsufficientStock) {
					return &InsufficientStockError{ProductID: it.ProductID, Name: it.Name, Available: lines.stock[i], Requested: it.Quantity}
				}
				return fmt.Errorf("failed to decrement stock of %s: %w", it.ProductID, err)
			}
			remaining[it.ProductID] = lines.stock[i] - it.Quantity
		}

		quote := s.pricing.Quote(lines.subtotal)
		if intent.Amount != MinorUnits(quote.Total) {
			return ErrAmountMismatch
		}

		now := s.now().UTC()
		order = &models.Order{
			ID:              uuid.NewString(),
			UserID:          userID,
			OrderNumber:     newOrderNumber(now),
			Items:           lines.items,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			PaymentMethod:   req.PaymentMethod,
			PaymentIntentID: req.PaymentIntentID,
			PaymentStatus:   models.PaymentStatusPaid,
			Subtotal:        quote.Subtotal,
			Tax:             quote.Tax,
			Shipping:        quote.Shipping,
			Total:           quote.Total,
			Status:          models.OrderStatusProcessing,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.orders.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		cart.Clear(now)
		if err := s.carts.SaveCart(ctx, cart); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return order, remaining, nil
}

type pricedLines struct {
	items    []models.OrderItem
	stock    []int // stock before this checkout, parallel to items
	subtotal decimal.Decimal
}

// priceLines resolves every cart line against the current catalog. The
// first unavailable product or short line fails the whole cart.
func (s *CheckoutService) priceLines(ctx context.Context, cart *models.Cart) (pricedLines, error) {
	out := pricedLines{
		items:    make([]models.OrderItem, 0, len(cart.Items)),
		stock:    make([]int, 0, len(cart.Items)),
		subtotal: decimal.Zero,
	}
	for _, line := range cart.Items {
		if line.Quantity < 1 || line.Quantity > models.MaxLineQuantity {
			return out, Invalid("items", fmt.Sprintf("quantity of %s must be between 1 and %d", line.ProductID, models.MaxLineQuantity))
		}
		p, err := s.products.GetProduct(ctx, line.ProductID)
		if errors.Is(err, models.ErrNotFound) {
			return out, &ProductUnavailableError{ProductID: line.ProductID}
		}
		if err != nil {
			return out, fmt.Errorf("failed to load product %s: %w", line.ProductID, err)
		}
		if !p.IsActive {
			return out, &ProductUnavailableError{ProductID: line.ProductID}
		}
		if p.Stock < line.Quantity {
			return out, &InsufficientStockError{ProductID: p.ID, Name: p.Name, Available: p.Stock, Requested: line.Quantity}
		}

		item := models.OrderItem{
			ProductID: p.ID,
			Quantity:  line.Quantity,
			Price:     p.EffectivePrice(),
			Name:      p.Name,
			Image:     p.FirstImage(),
		}
		out.items = append(out.items, item)
		out.stock = append(out.stock, p.Stock)
		out.subtotal = out.subtotal.Add(item.LineTotal())
	}
	return out, nil
}

// HandlePaymentEvent reconciles a verified webhook notification. Rule
// violations are logged and swallowed so the processor stops redelivering;
// a returned error asks for redelivery.
func (s *CheckoutService) HandlePaymentEvent(ctx context.Context, ev payment.Event) error {
	log := logging.FromCtx(ctx).With("event_id", ev.ID, "event_type", string(ev.Type))

	switch ev.Type {
	case payment.EventIntentSucceeded:
		if ev.Intent == nil {
			log.Warn("succeeded event without payment intent")
			return nil
		}
		req, userID, err := requestFromMetadata(*ev.Intent)
		if err != nil {
			log.Warn("cannot reconcile payment intent", "payment_intent_id", ev.Intent.ID, "err", err)
			s.recordFailure(ctx, "webhook_metadata")
			return nil
		}

		order, created, err := s.finalize(ctx, userID, req)
		switch {
		case err == nil:
			log.Info("payment reconciled", "order_id", order.ID, "created", created)
			return nil
		case errors.Is(err, ErrCheckoutInProgress):
			return err
		case IsBusiness(err), errors.Is(err, ErrForbidden):
			log.Warn("payment not turned into an order", "payment_intent_id", req.PaymentIntentID, "err", err)
			return nil
		default:
			return fmt.Errorf("reconcile %s: %w", req.PaymentIntentID, err)
		}

	case payment.EventIntentFailed:
		id := ""
		if ev.Intent != nil {
			id = ev.Intent.ID
		}
		log.Warn("payment failed", "payment_intent_id", id)
		s.recordFailure(ctx, "payment_failed")
		return nil

	default:
		log.Debug("ignoring webhook event")
		return nil
	}
}

func requestFromMetadata(in payment.Intent) (FinalizeRequest, string, error) {
	userID := in.Metadata[payment.MetaUserID]
	if userID == "" {
		return FinalizeRequest{}, "", errors.New("intent has no userId metadata")
	}
	req := FinalizeRequest{PaymentIntentID: in.ID, PaymentMethod: models.PaymentMethodCard}
	if err := json.Unmarshal([]byte(in.Metadata[payment.MetaShippingAddress]), &req.ShippingAddress); err != nil {
		return FinalizeRequest{}, "", fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal([]byte(in.Metadata[payment.MetaBillingAddress]), &req.BillingAddress); err != nil {
		return FinalizeRequest{}, "", fmt.Errorf("decode billing address: %w", err)
	}
	return req, userID, nil
}

func (s *CheckoutService) publish(ctx context.Context, typ events.Type, o *models.Order) {
	publishOrderEvent(ctx, s.publisher, typ, o, s.now())
}

func publishOrderEvent(ctx context.Context, p events.Publisher, typ events.Type, o *models.Order, at time.Time) {
	ev := events.OrderEvent{
		Type:          typ,
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Total:         o.Total,
		OccurredAt:    at.UTC(),
	}
	if err := p.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logging.FromCtx(ctx).Error("failed to publish order event", "type", typ, "order_id", o.ID, "err", err)
	}
}

func (s *CheckoutService) recordFailure(ctx context.Context, reason string) {
	s.metrics.CheckoutFailures.Add(ctx, 1, s.metrics.Attrs(attribute.String("reason", reason)))
}

func failureReason(err error) string {
	var (
		stock *InsufficientStockError
		gone  *ProductUnavailableError
	)
	switch {
	case errors.As(err, &stock):
		return "insufficient_stock"
	case errors.As(err, &gone):
		return "product_unavailable"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	default:
		return "internal"
	}
}

// newOrderNumber is ORD-<unix millis>-<6 random hex digits>
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}
