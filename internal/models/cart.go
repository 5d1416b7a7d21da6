package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxConcurrentLookups bounds product reads while recomputing cart totals
	MaxConcurrentLookups = 8
	// MaxLineQuantity caps the units a single cart line may hold
	MaxLineQuantity = 999
)

// CartItem is one (product, quantity) line of a cart
type CartItem struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// Cart is the per-user shopping cart. TotalItems and TotalPrice are a cache
// of the last CalculateTotals call, not a source of truth.
type Cart struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Items       []CartItem      `json:"items"`
	TotalItems  int             `json:"total_items"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	LastUpdated time.Time       `json:"last_updated"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ProductLookup resolves the current state of a product.
// Implementations return ErrNotFound for unknown ids.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*Product, error)
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Quantity returns the units held for productID, 0 when there is no line
func (c *Cart) Quantity(productID string) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// AddItem increases the quantity of an existing line or appends a new one.
// It refuses to grow a line past MaxLineQuantity and reports whether the
// cart changed.
func (c *Cart) AddItem(productID string, quantity int, now time.Time) bool {
	if quantity < 1 || quantity > MaxLineQuantity-c.Quantity(productID) {
		return false
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return true
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity, AddedAt: now})
	return true
}

// UpdateQuantity sets the quantity of a line; quantity <= 0 removes it.
// It reports whether a line was found.
func (c *Cart) UpdateQuantity(productID string, quantity int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if quantity <= 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
		} else {
			c.Items[i].Quantity = quantity
		}
		return true
	}
	return false
}

// RemoveItem deletes the line for productID if present
func (c *Cart) RemoveItem(productID string) bool {
	return c.UpdateQuantity(productID, 0)
}

// Clear empties the cart and resets the cached totals
func (c *Cart) Clear(now time.Time) {
	c.Items = []CartItem{}
	c.TotalItems = 0
	c.TotalPrice = decimal.Zero
	c.LastUpdated = now
}

// CalculateTotals re-reads every referenced product and recomputes the
// cached totals. Lines whose product no longer resolves contribute nothing
// but stay in Items. At most limit lookups run at once; transactional
// lookups must pass 1 since a transaction handle is not shared safely.
func (c *Cart) CalculateTotals(ctx context.Context, products ProductLookup, now time.Time, limit int) error {
	resolved := make([]*Product, len(c.Items))

	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for idx := range c.Items {
		g.Go(func() error {
			p, err := products.GetProduct(gctx, c.Items[idx].ProductID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to load product %s: %w", c.Items[idx].ProductID, err)
			}
			resolved[idx] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	totalItems := 0
	totalPrice := decimal.Zero
	for idx, p := range resolved {
		if p == nil {
			continue
		}
		qty := c.Items[idx].Quantity
		totalItems += qty
		totalPrice = totalPrice.Add(p.EffectivePrice().Mul(decimal.NewFromInt(int64(qty))))
	}

	c.TotalItems = totalItems
	c.TotalPrice = totalPrice
	c.LastUpdated = now
	return nil
}
