package mysqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/checkout-api/internal/models"
)

const productColumns = "id, name, description, price, discount, stock, category, images, is_featured, is_active, created_at, updated_at"

func scanProduct(r scanner) (*models.Product, error) {
	var (
		p      models.Product
		images []byte
	)
	if err := r.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Discount, &p.Stock, &p.Category,
		&images, &p.IsFeatured, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := fromJSON(images, &p.Images); err != nil {
		return nil, err
	}
	if p.Images == nil {
		p.Images = []models.Image{}
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p *models.Product
	err := s.get(ctx, "products", "SELECT "+productColumns+" FROM products WHERE id = ?", func(r scanner) (err error) {
		p, err = scanProduct(r)
		return err
	}, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.Featured {
		where = append(where, "is_featured = TRUE")
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		where = append(where, "(name LIKE ? OR description LIKE ?)")
		args = append(args, like, like)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.get(ctx, "products", "SELECT COUNT(*) FROM products"+cond, func(r scanner) error {
		return r.Scan(&total)
	}, args...); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := "SELECT " + productColumns + " FROM products" + cond + " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	rows, err := s.query(ctx, "products", query, append(args, f.Limit, f.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	images, err := toJSON(p.Images)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "INSERT", "products",
		"INSERT INTO products ("+productColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, p.Price, p.Discount, p.Stock, p.Category, images,
		p.IsFeatured, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	images, err := toJSON(p.Images)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, "UPDATE", "products",
		`UPDATE products SET name = ?, description = ?, price = ?, discount = ?, stock = ?, category = ?,
			images = ?, is_featured = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.Price, p.Discount, p.Stock, p.Category, images,
		p.IsFeatured, p.IsActive, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "products", p.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "DELETE", "products", "DELETE FROM products WHERE id = ?", id)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "products", id)
}

// DecrementStock is a single conditional update, so concurrent checkouts
// can never drive stock below zero
func (s *Store) DecrementStock(ctx context.Context, id string, qty int) error {
	res, err := s.exec(ctx, "UPDATE", "products",
		"UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?",
		qty, time.Now().UTC(), id, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	ok, err := s.exists(ctx, "products", id)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return models.ErrInsufficientStock
}

func (s *Store) IncrementStock(ctx context.Context, id string, qty int) error {
	res, err := s.exec(ctx, "UPDATE", "products",
		"UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?",
		qty, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return s.requireRow(ctx, res, "products", id)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
