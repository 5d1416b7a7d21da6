package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/models"
)

// ProductStore persists the catalog. Missing ids yield models.ErrNotFound.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, f models.ProductFilter) ([]models.Product, int64, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id string) error

	// DecrementStock removes qty units in a single conditional write and
	// returns models.ErrInsufficientStock when fewer are left.
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
}

// CartStore persists one cart per user
type CartStore interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	// SaveCart inserts or replaces the cart of c.UserID
	SaveCart(ctx context.Context, c *models.Cart) error
}

// OrderStore persists orders. CreateOrder returns models.ErrDuplicate when
// the payment intent id or order number is already taken.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int64, error)
	// UpdateOrder writes the mutable fields only: status, payment status,
	// tracking number, delivered at and updated at.
	UpdateOrder(ctx context.Context, o *models.Order) error
}

// UserStore persists accounts. Emails are unique; CreateUser and
// UpdateUser return models.ErrDuplicate when another account holds it.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// ListUsers returns users newest first
	ListUsers(ctx context.Context, f models.UserFilter) ([]models.User, int64, error)
	// UpdateUser writes everything but id and created at
	UpdateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
}

// Transactor runs fn atomically. Store calls made with the ctx passed to fn
// join the transaction; fn returning an error rolls everything back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReportStore answers dashboard aggregates. A zero since means all time.
type ReportStore interface {
	CountUsers(ctx context.Context, since time.Time) (int64, error)
	CountOrders(ctx context.Context, since time.Time) (int64, error)
	OrderStatusDistribution(ctx context.Context) ([]models.StatusCount, error)
	// Revenue sums totals of non-cancelled orders
	Revenue(ctx context.Context, since time.Time) (decimal.Decimal, error)
	DailyRevenue(ctx context.Context, since time.Time) ([]models.DailyRevenue, error)
	RevenueByCategory(ctx context.Context) ([]models.CategoryRevenue, error)
	CountProducts(ctx context.Context) (int64, error)
	CountLowStock(ctx context.Context, below int) (int64, error)
	CountActiveCarts(ctx context.Context) (int64, error)

	CountUsersByStatus(ctx context.Context, active bool) (int64, error)
	UsersByRole(ctx context.Context) ([]models.RoleCount, error)
	// RegistrationsByMonth buckets sign-ups by UTC calendar month, oldest first
	RegistrationsByMonth(ctx context.Context, since time.Time) ([]models.MonthlyCount, error)
	// TopSellingProducts ranks products still in the catalog by units sold
	// over non-cancelled orders
	TopSellingProducts(ctx context.Context, limit int) ([]models.ProductSales, error)
	ProductsByCategory(ctx context.Context) ([]models.CategoryCount, error)
}

// Store is what every persistence backend provides
type Store interface {
	ProductStore
	CartStore
	OrderStore
	UserStore
	Transactor
	ReportStore
	Close(ctx context.Context) error
}
