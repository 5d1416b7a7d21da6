package mysqlstore

import (
	"context"

	"github.com/storefront/checkout-api/internal/models"
)

// GetCart locks the row when called inside a transaction so concurrent
// mutations of the same cart serialize
func (s *Store) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	query := "SELECT id, user_id, items, total_items, total_price, last_updated, created_at FROM carts WHERE user_id = ?" + forUpdate(ctx)

	var c models.Cart
	err := s.get(ctx, "carts", query, func(r scanner) error {
		var items []byte
		if err := r.Scan(&c.ID, &c.UserID, &items, &c.TotalItems, &c.TotalPrice, &c.LastUpdated, &c.CreatedAt); err != nil {
			return err
		}
		return fromJSON(items, &c.Items)
	}, userID)
	if err != nil {
		return nil, err
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return &c, nil
}

func (s *Store) SaveCart(ctx context.Context, c *models.Cart) error {
	items := c.Items
	if items == nil {
		items = []models.CartItem{}
	}
	raw, err := toJSON(items)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, "UPSERT", "carts",
		`INSERT INTO carts (id, user_id, items, total_items, total_price, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE items = VALUES(items), total_items = VALUES(total_items),
			total_price = VALUES(total_price), last_updated = VALUES(last_updated)`,
		c.ID, c.UserID, raw, c.TotalItems, c.TotalPrice, c.LastUpdated, c.CreatedAt)
	return err
}
