package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
)

// CartService handles cart-related operations
type CartService struct {
	products ProductStore
	carts    CartStore
	tx       Transactor
	metrics  *metrics.AppMetrics
	log      *slog.Logger
	now      func() time.Time
}

// NewCartService creates a new cart service
func NewCartService(products ProductStore, carts CartStore, tx Transactor, m *metrics.AppMetrics) *CartService {
	return &CartService{
		products: products,
		carts:    carts,
		tx:       tx,
		metrics:  m,
		log:      logging.New("cart"),
		now:      time.Now,
	}
}

// GetCart returns the user's cart with fresh totals. A user without a cart
// gets an empty, unsaved one.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := cart.CalculateTotals(ctx, s.products, s.now(), models.MaxConcurrentLookups); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem adds quantity units of an active product, creating the cart on
// first use
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if productID == "" {
		return nil, Invalid("product_id", "is required")
	}
	if quantity < 1 {
		return nil, Invalid("quantity", "must be at least 1")
	}
	if quantity > models.MaxLineQuantity {
		return nil, Invalid("quantity", fmt.Sprintf("must be at most %d", models.MaxLineQuantity))
	}

	p, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}
	if !p.IsActive {
		return nil, &ProductUnavailableError{ProductID: productID}
	}

	return s.mutate(ctx, userID, func(c *models.Cart) error {
		if !c.AddItem(productID, quantity, s.now()) {
			return Invalid("quantity", fmt.Sprintf("line would exceed %d units", models.MaxLineQuantity))
		}
		return nil
	})
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
// Unknown lines are left alone.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if productID == "" {
		return nil, Invalid("product_id", "is required")
	}
	if quantity > models.MaxLineQuantity {
		return nil, Invalid("quantity", fmt.Sprintf("must be at most %d", models.MaxLineQuantity))
	}
	return s.mutate(ctx, userID, func(c *models.Cart) error {
		c.UpdateQuantity(productID, quantity)
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*models.Cart, error) {
	if productID == "" {
		return nil, Invalid("product_id", "is required")
	}
	return s.mutate(ctx, userID, func(c *models.Cart) error {
		c.RemoveItem(productID)
		return nil
	})
}

// Count returns the number of units in the user's cart
func (s *CartService) Count(ctx context.Context, userID string) (int, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return 0, err
	}
	return cart.TotalItems, nil
}

func (s *CartService) Clear(ctx context.Context, userID string) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(c *models.Cart) error {
		c.Clear(s.now())
		return nil
	})
}

// mutate applies fn to the stored cart and saves it with recomputed totals
// in one transaction, so concurrent edits of the same cart serialize.
func (s *CartService) mutate(ctx context.Context, userID string, fn func(c *models.Cart) error) (*models.Cart, error) {
	var cart *models.Cart
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.load(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		if err := c.CalculateTotals(ctx, s.products, s.now(), 1); err != nil {
			return err
		}
		if err := s.carts.SaveCart(ctx, c); err != nil {
			return fmt.Errorf("failed to save cart: %w", err)
		}
		cart = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CartItemsCount.Record(ctx, int64(cart.TotalItems), s.metrics.Attrs())
	s.log.DebugContext(ctx, "cart updated", "user_id", userID, "items", len(cart.Items), "total_items", cart.TotalItems)
	return cart, nil
}

func (s *CartService) load(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		now := s.now()
		return &models.Cart{
			ID:          uuid.NewString(),
			UserID:      userID,
			Items:       []models.CartItem{},
			LastUpdated: now,
			CreatedAt:   now,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return cart, nil
}
