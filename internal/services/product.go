package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storefront/checkout-api/internal/cache"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
)

const productCacheTTL = 5 * time.Minute

// ProductInput is the admin-editable part of a product
type ProductInput struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=5000"`
	Price       decimal.Decimal `json:"price"`
	Discount    int             `json:"discount" validate:"gte=0,lte=100"`
	Stock       int             `json:"stock" validate:"gte=0"`
	Category    string          `json:"category" validate:"required"`
	Images      []models.Image  `json:"images" validate:"dive"`
	IsFeatured  bool            `json:"is_featured"`
	IsActive    *bool           `json:"is_active"`
}

func (in ProductInput) validate() error {
	if err := Validate(in); err != nil {
		return err
	}
	if in.Price.IsNegative() {
		return Invalid("price", "must not be negative")
	}
	return nil
}

// ProductService handles catalog reads and admin writes. Single product
// reads go through a short-lived cache that writes invalidate.
type ProductService struct {
	store   ProductStore
	cache   *cache.TTL[models.Product]
	metrics *metrics.AppMetrics
	log     *slog.Logger
	now     func() time.Time
}

// NewProductService creates a new product service
func NewProductService(store ProductStore, m *metrics.AppMetrics) *ProductService {
	return &ProductService{
		store:   store,
		cache:   cache.NewTTL[models.Product](productCacheTTL),
		metrics: m,
		log:     logging.New("product"),
		now:     time.Now,
	}
}

// ListProducts returns a page of products. Only admins see inactive ones.
func (s *ProductService) ListProducts(ctx context.Context, actor Actor, f models.ProductFilter) ([]models.Product, models.Pagination, error) {
	f.Page = normalizePage(f.Page)
	f.ActiveOnly = !actor.IsAdmin()
	products, total, err := s.store.ListProducts(ctx, f)
	if err != nil {
		return nil, models.Pagination{}, fmt.Errorf("failed to list products: %w", err)
	}
	return products, models.NewPagination(f.Page, total), nil
}

// GetProduct returns a product by id. Inactive products are hidden from
// non-admins.
func (s *ProductService) GetProduct(ctx context.Context, actor Actor, id string) (*models.Product, error) {
	p, hit := s.cache.Get(id)
	if hit {
		s.metrics.CacheHits.Add(ctx, 1, s.metrics.Attrs(attribute.String("cache", "product")))
	} else {
		s.metrics.CacheMisses.Add(ctx, 1, s.metrics.Attrs(attribute.String("cache", "product")))
		loaded, err := s.store.GetProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get product %s: %w", id, err)
		}
		p = *loaded
		s.cache.Set(id, p)
	}

	if !p.IsActive && !actor.IsAdmin() {
		return nil, fmt.Errorf("product %s: %w", id, models.ErrNotFound)
	}

	s.metrics.ProductsViewed.Add(ctx, 1, s.metrics.Attrs(
		attribute.String("product_id", id),
		attribute.String("product_category", p.Category),
	))
	return &p, nil
}

func (s *ProductService) CreateProduct(ctx context.Context, actor Actor, in ProductInput) (*models.Product, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &models.Product{ID: uuid.NewString(), IsActive: true, CreatedAt: now}
	apply(p, in, now)
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.recordInventory(ctx, p)
	s.log.InfoContext(ctx, "product created", "product_id", p.ID, "name", p.Name)
	return p, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, actor Actor, id string, in ProductInput) (*models.Product, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	apply(p, in, s.now().UTC())
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update product %s: %w", id, err)
	}
	s.cache.Delete(id)

	s.recordInventory(ctx, p)
	return p, nil
}

func (s *ProductService) DeleteProduct(ctx context.Context, actor Actor, id string) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	err := s.store.DeleteProduct(ctx, id)
	s.cache.Delete(id)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	s.log.InfoContext(ctx, "product deleted", "product_id", id)
	return nil
}

// Purge drops expired cache entries until ctx is done
func (s *ProductService) Purge(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cache.Sweep()
		}
	}
}

func (s *ProductService) recordInventory(ctx context.Context, p *models.Product) {
	s.metrics.InventoryLevel.Record(ctx, int64(p.Stock), s.metrics.Attrs(attribute.String("product_id", p.ID)))
}

func apply(p *models.Product, in ProductInput, now time.Time) {
	p.Name = in.Name
	p.Description = in.Description
	p.Price = in.Price
	p.Discount = in.Discount
	p.Stock = in.Stock
	p.Category = in.Category
	p.Images = in.Images
	if p.Images == nil {
		p.Images = []models.Image{}
	}
	p.IsFeatured = in.IsFeatured
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = now
}
