package mysqlstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/checkout-api/internal/models"
)

func (s *Store) count(ctx context.Context, table, query string, args ...any) (int64, error) {
	var n int64
	err := s.get(ctx, table, query, func(r scanner) error { return r.Scan(&n) }, args...)
	return n, err
}

// since appends a created_at bound unless since is zero
func since(query string, t time.Time, joiner string) (string, []any) {
	if t.IsZero() {
		return query, nil
	}
	return query + joiner + "created_at >= ?", []any{t.UTC()}
}

func (s *Store) CountUsers(ctx context.Context, from time.Time) (int64, error) {
	q, args := since("SELECT COUNT(*) FROM users", from, " WHERE ")
	return s.count(ctx, "users", q, args...)
}

func (s *Store) CountOrders(ctx context.Context, from time.Time) (int64, error) {
	q, args := since("SELECT COUNT(*) FROM orders", from, " WHERE ")
	return s.count(ctx, "orders", q, args...)
}

func (s *Store) OrderStatusDistribution(ctx context.Context) ([]models.StatusCount, error) {
	rows, err := s.query(ctx, "orders", "SELECT status, COUNT(*) FROM orders GROUP BY status ORDER BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.StatusCount{}
	for rows.Next() {
		var sc models.StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) Revenue(ctx context.Context, from time.Time) (decimal.Decimal, error) {
	q, args := since("SELECT COALESCE(SUM(total), 0) FROM orders WHERE status <> 'cancelled'", from, " AND ")
	var total decimal.Decimal
	err := s.get(ctx, "orders", q, func(r scanner) error { return r.Scan(&total) }, args...)
	return total, err
}

func (s *Store) DailyRevenue(ctx context.Context, from time.Time) ([]models.DailyRevenue, error) {
	rows, err := s.query(ctx, "orders",
		`SELECT DATE_FORMAT(created_at, '%Y-%m-%d') AS day, SUM(total)
		FROM orders WHERE status <> 'cancelled' AND created_at >= ?
		GROUP BY day ORDER BY day`, from.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DailyRevenue{}
	for rows.Next() {
		var d models.DailyRevenue
		if err := rows.Scan(&d.Day, &d.Revenue); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RevenueByCategory expands the order lines with JSON_TABLE and joins the
// current catalog; lines of deleted products are dropped
func (s *Store) RevenueByCategory(ctx context.Context) ([]models.CategoryRevenue, error) {
	rows, err := s.query(ctx, "orders",
		`SELECT p.category, SUM(li.price * li.quantity) AS revenue
		FROM orders o,
			JSON_TABLE(o.items, '$[*]' COLUMNS (
				product_id VARCHAR(36) PATH '$.product_id',
				quantity INT PATH '$.quantity',
				price DECIMAL(12,2) PATH '$.price'
			)) AS li,
			products p
		WHERE p.id = li.product_id AND o.status <> 'cancelled'
		GROUP BY p.category ORDER BY revenue DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CategoryRevenue{}
	for rows.Next() {
		var c models.CategoryRevenue
		if err := rows.Scan(&c.Category, &c.Revenue); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountProducts(ctx context.Context) (int64, error) {
	return s.count(ctx, "products", "SELECT COUNT(*) FROM products")
}

func (s *Store) CountLowStock(ctx context.Context, below int) (int64, error) {
	return s.count(ctx, "products", "SELECT COUNT(*) FROM products WHERE stock < ?", below)
}

func (s *Store) CountActiveCarts(ctx context.Context) (int64, error) {
	return s.count(ctx, "carts", "SELECT COUNT(*) FROM carts WHERE JSON_LENGTH(items) > 0")
}

func (s *Store) CountUsersByStatus(ctx context.Context, active bool) (int64, error) {
	return s.count(ctx, "users", "SELECT COUNT(*) FROM users WHERE is_active = ?", active)
}

func (s *Store) UsersByRole(ctx context.Context) ([]models.RoleCount, error) {
	rows, err := s.query(ctx, "users", "SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY role")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RoleCount{}
	for rows.Next() {
		var rc models.RoleCount
		if err := rows.Scan(&rc.Role, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *Store) RegistrationsByMonth(ctx context.Context, from time.Time) ([]models.MonthlyCount, error) {
	rows, err := s.query(ctx, "users",
		`SELECT DATE_FORMAT(created_at, '%Y-%m') AS month, COUNT(*)
		FROM users WHERE created_at >= ?
		GROUP BY month ORDER BY month`, from.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.MonthlyCount{}
	for rows.Next() {
		var m models.MonthlyCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) TopSellingProducts(ctx context.Context, limit int) ([]models.ProductSales, error) {
	rows, err := s.query(ctx, "orders",
		`SELECT p.id, p.name, COALESCE(JSON_UNQUOTE(JSON_EXTRACT(p.images, '$[0].url')), ''),
			SUM(li.quantity) AS sold, SUM(li.price * li.quantity)
		FROM orders o,
			JSON_TABLE(o.items, '$[*]' COLUMNS (
				product_id VARCHAR(36) PATH '$.product_id',
				quantity INT PATH '$.quantity',
				price DECIMAL(12,2) PATH '$.price'
			)) AS li,
			products p
		WHERE p.id = li.product_id AND o.status <> 'cancelled'
		GROUP BY p.id, p.name, p.images ORDER BY sold DESC, p.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ProductSales{}
	for rows.Next() {
		var ps models.ProductSales
		if err := rows.Scan(&ps.ProductID, &ps.Name, &ps.Image, &ps.TotalSold, &ps.Revenue); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *Store) ProductsByCategory(ctx context.Context) ([]models.CategoryCount, error) {
	rows, err := s.query(ctx, "products",
		"SELECT category, COUNT(*) AS n FROM products GROUP BY category ORDER BY n DESC, category ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CategoryCount{}
	for rows.Next() {
		var c models.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
