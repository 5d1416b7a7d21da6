package mysqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/storefront/checkout-api/internal/models"
)

const orderColumns = `id, user_id, order_number, items, shipping_address, billing_address, payment_method,
	payment_intent_id, payment_status, subtotal, tax, shipping, total, status, tracking_number,
	delivered_at, created_at, updated_at`

func scanOrder(r scanner) (*models.Order, error) {
	var (
		o                        models.Order
		items, shipping, billing []byte
		intentID                 sql.NullString
		deliveredAt              sql.NullTime
	)
	if err := r.Scan(&o.ID, &o.UserID, &o.OrderNumber, &items, &shipping, &billing, &o.PaymentMethod,
		&intentID, &o.PaymentStatus, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &o.Status, &o.TrackingNumber,
		&deliveredAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(items, &o.Items); err != nil {
		return nil, err
	}
	if err := fromJSON(shipping, &o.ShippingAddress); err != nil {
		return nil, err
	}
	if err := fromJSON(billing, &o.BillingAddress); err != nil {
		return nil, err
	}
	o.PaymentIntentID = intentID.String
	if deliveredAt.Valid {
		t := deliveredAt.Time
		o.DeliveredAt = &t
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	items, err := toJSON(o.Items)
	if err != nil {
		return err
	}
	shipping, err := toJSON(o.ShippingAddress)
	if err != nil {
		return err
	}
	billing, err := toJSON(o.BillingAddress)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "INSERT", "orders",
		"INSERT INTO orders ("+orderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		o.ID, o.UserID, o.OrderNumber, items, shipping, billing, o.PaymentMethod,
		nullString(o.PaymentIntentID), o.PaymentStatus, o.Subtotal, o.Tax, o.Shipping, o.Total, o.Status,
		o.TrackingNumber, nullTime(o.DeliveredAt), o.CreatedAt, o.UpdatedAt)
	return err
}

func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return s.getOrder(ctx, "id", id)
}

func (s *Store) GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	return s.getOrder(ctx, "payment_intent_id", intentID)
}

func (s *Store) getOrder(ctx context.Context, column, value string) (*models.Order, error) {
	var o *models.Order
	err := s.get(ctx, "orders", "SELECT "+orderColumns+" FROM orders WHERE "+column+" = ?"+forUpdate(ctx), func(r scanner) (err error) {
		o, err = scanOrder(r)
		return err
	}, value)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.get(ctx, "orders", "SELECT COUNT(*) FROM orders"+cond, func(r scanner) error {
		return r.Scan(&total)
	}, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := "SELECT " + orderColumns + " FROM orders" + cond + " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	rows, err := s.query(ctx, "orders", query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	res, err := s.exec(ctx, "UPDATE", "orders",
		"UPDATE orders SET status = ?, payment_status = ?, tracking_number = ?, delivered_at = ?, updated_at = ? WHERE id = ?",
		o.Status, o.PaymentStatus, o.TrackingNumber, nullTime(o.DeliveredAt), o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "orders", o.ID)
}
