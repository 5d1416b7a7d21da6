package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/events"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
)

// Actor is the authenticated caller of a service operation
type Actor struct {
	UserID string
	Role   models.Role
}

func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// OrderService handles order queries and lifecycle changes
type OrderService struct {
	orders    OrderStore
	products  ProductStore
	tx        Transactor
	gateway   payment.Gateway
	locker    cache.Locker
	publisher events.Publisher
	metrics   *metrics.AppMetrics
	now       func() time.Time
}

type OrderDeps struct {
	Orders    OrderStore
	Products  ProductStore
	Tx        Transactor
	Gateway   payment.Gateway
	Locker    cache.Locker
	Publisher events.Publisher
	Metrics   *metrics.AppMetrics
}

// NewOrderService creates a new order service
func NewOrderService(d OrderDeps) *OrderService {
	return &OrderService{
		orders:    d.Orders,
		products:  d.Products,
		tx:        d.Tx,
		gateway:   d.Gateway,
		locker:    d.Locker,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

// GetOrder returns an order visible to the actor: its owner or an admin
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, id string) (*models.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListOrders lists the actor's own orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, f models.OrderFilter) ([]models.Order, models.Pagination, error) {
	f.UserID = actor.UserID
	return s.list(ctx, f)
}

// ListAllOrders lists every user's orders for the admin back office
func (s *OrderService) ListAllOrders(ctx context.Context, actor Actor, f models.OrderFilter) ([]models.Order, models.Pagination, error) {
	if !actor.IsAdmin() {
		return nil, models.Pagination{}, ErrForbidden
	}
	return s.list(ctx, f)
}

func (s *OrderService) list(ctx context.Context, f models.OrderFilter) ([]models.Order, models.Pagination, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, models.Pagination{}, Invalid("status", "unknown order status")
	}
	f.Page = normalizePage(f.Page)
	orders, total, err := s.orders.ListOrders(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, models.NewPagination(f.Page, total), nil
}

// SetStatus moves an order along the lifecycle. Only admins may call it.
// Moving to cancelled refunds and restocks exactly like a customer
// cancellation. Every change holds the order lock, so no transition can
// interleave with a cancellation whose refund is in flight.
func (s *OrderService) SetStatus(ctx context.Context, actor Actor, id string, status models.OrderStatus, trackingNumber string) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if !status.Valid() {
		return nil, Invalid("status", "must be one of pending, processing, shipped, delivered, cancelled")
	}

	release, err := s.lockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if status == models.OrderStatusCancelled {
		return s.cancelLocked(ctx, id, false)
	}

	var updated *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetOrder(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get order %s: %w", id, err)
		}
		if !o.Status.CanTransitionTo(status) {
			return &TransitionError{From: o.Status, To: status}
		}
		// shipped -> shipped only exists to correct the tracking number
		if o.Status == status && (trackingNumber == "" || trackingNumber == o.TrackingNumber) {
			return &TransitionError{From: o.Status, To: status}
		}

		now := s.now().UTC()
		o.Status = status
		if trackingNumber != "" {
			o.TrackingNumber = trackingNumber
		}
		if status == models.OrderStatusDelivered {
			o.DeliveredAt = &now
		}
		o.UpdatedAt = now
		if err := s.orders.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order %s: %w", id, err)
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromCtx(ctx).Info("order status changed", "order_id", id, "status", status)
	publishOrderEvent(ctx, s.publisher, events.OrderStatusChanged, updated, s.now())
	return updated, nil
}

// Cancel cancels the actor's own pending or processing order
func (s *OrderService) Cancel(ctx context.Context, actor Actor, id string) (*models.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	if o.UserID != actor.UserID {
		return nil, ErrForbidden
	}

	release, err := s.lockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.cancelLocked(ctx, id, true)
}

// lockOrder takes the per-order lock or fails fast with ErrOrderBusy
func (s *OrderService) lockOrder(ctx context.Context, id string) (func(), error) {
	release, ok, err := s.locker.TryLock(ctx, "order:"+id)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire order lock: %w", err)
	}
	if !ok {
		return nil, ErrOrderBusy
	}
	return release, nil
}

// cancelLocked refunds a paid order, then restores stock and flips the
// statuses in one transaction. A failed refund leaves the order untouched.
// The caller holds the order lock.
func (s *OrderService) cancelLocked(ctx context.Context, id string, byCustomer bool) (*models.Order, error) {
	log := logging.FromCtx(ctx).With("order_id", id)

	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	if err := checkCancellable(o, byCustomer); err != nil {
		return nil, err
	}

	refunded := false
	if o.PaymentStatus == models.PaymentStatusPaid && o.PaymentIntentID != "" {
		r, err := s.gateway.Refund(ctx, o.PaymentIntentID)
		if err != nil {
			log.Error("refund failed, order left unchanged", "payment_intent_id", o.PaymentIntentID, "err", err)
			return nil, err
		}
		refunded = true
		s.metrics.RefundsIssued.Add(ctx, 1, s.metrics.Attrs())
		log.Info("refund issued", "refund_id", r.ID, "refund_status", r.Status)
	}

	var cancelled *models.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetOrder(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get order %s: %w", id, err)
		}
		if err := checkCancellable(o, byCustomer); err != nil {
			return err
		}

		for _, it := range o.Items {
			err := s.products.IncrementStock(ctx, it.ProductID, it.Quantity)
			if errors.Is(err, models.ErrNotFound) {
				log.Warn("product gone, stock not restored", "product_id", it.ProductID, "quantity", it.Quantity)
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to restore stock of %s: %w", it.ProductID, err)
			}
		}

		if refunded {
			o.PaymentStatus = models.PaymentStatusRefunded
		}
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = s.now().UTC()
		if err := s.orders.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to update order %s: %w", id, err)
		}
		cancelled = o
		return nil
	})
	if err != nil {
		// the money already went back; a human has to fix the order
		if refunded {
			log.Error("order refunded but not cancelled", "payment_intent_id", o.PaymentIntentID, "err", err)
		}
		return nil, err
	}

	s.metrics.OrdersCancelled.Add(ctx, 1, s.metrics.Attrs(attribute.Bool("refunded", refunded)))
	log.Info("order cancelled", "refunded", refunded)
	publishOrderEvent(ctx, s.publisher, events.OrderCancelled, cancelled, s.now())
	return cancelled, nil
}

func checkCancellable(o *models.Order, byCustomer bool) error {
	if byCustomer {
		if !o.Status.Cancellable() {
			return ErrNotCancellable
		}
		return nil
	}
	if !o.Status.CanTransitionTo(models.OrderStatusCancelled) {
		return &TransitionError{From: o.Status, To: models.OrderStatusCancelled}
	}
	return nil
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func normalizePage(p models.Page) models.Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageSize
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}
