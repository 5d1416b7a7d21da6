package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/payment"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/storefront/checkout-api/pkg/config"
)

// Services bundles what the handlers call into
type Services struct {
	Products *services.ProductService
	Carts    *services.CartService
	Checkout *services.CheckoutService
	Orders   *services.OrderService
	Users    *services.UserService
	Reports  *services.ReportService
	Gateway  payment.Gateway
}

// App holds application dependencies
type App struct {
	config          *config.Config
	metrics         *metrics.AppMetrics
	productService  *services.ProductService
	cartService     *services.CartService
	checkoutService *services.CheckoutService
	orderService    *services.OrderService
	userService     *services.UserService
	reportService   *services.ReportService
	gateway         payment.Gateway
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, m *metrics.AppMetrics, svc Services) *App {
	return &App{
		config:          cfg,
		metrics:         m,
		productService:  svc.Products,
		cartService:     svc.Carts,
		checkoutService: svc.Checkout,
		orderService:    svc.Orders,
		userService:     svc.Users,
		reportService:   svc.Reports,
		gateway:         svc.Gateway,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware(a.config.App.AllowedOrigins))
	r.Use(middleware.ErrorHandlerMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth
	api.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")
	api.Handle("/auth/me", a.user(a.MeHandler)).Methods("GET")
	api.Handle("/auth/profile", a.user(a.UpdateProfileHandler)).Methods("PUT")

	// Users
	api.Handle("/users", a.admin(a.ListUsersHandler)).Methods("GET")
	api.Handle("/users", a.admin(a.CreateUserHandler)).Methods("POST")
	api.Handle("/users/stats/overview", a.admin(a.UserOverviewHandler)).Methods("GET")
	api.Handle("/users/{id}", a.admin(a.GetUserHandler)).Methods("GET")
	api.Handle("/users/{id}", a.admin(a.UpdateUserHandler)).Methods("PUT")
	api.Handle("/users/{id}", a.admin(a.DeleteUserHandler)).Methods("DELETE")
	api.Handle("/users/{id}/status", a.admin(a.SetUserStatusHandler)).Methods("PATCH")

	// Products
	api.Handle("/products", a.optional(a.ListProductsHandler)).Methods("GET")
	api.Handle("/products", a.admin(a.CreateProductHandler)).Methods("POST")
	api.Handle("/products/{id}", a.optional(a.GetProductHandler)).Methods("GET")
	api.Handle("/products/{id}", a.admin(a.UpdateProductHandler)).Methods("PUT")
	api.Handle("/products/{id}", a.admin(a.DeleteProductHandler)).Methods("DELETE")

	// Cart
	api.Handle("/cart", a.user(a.GetCartHandler)).Methods("GET")
	api.Handle("/cart/count", a.user(a.CartCountHandler)).Methods("GET")
	api.Handle("/cart/add", a.user(a.AddToCartHandler)).Methods("POST")
	api.Handle("/cart/update", a.user(a.UpdateCartHandler)).Methods("PUT")
	api.Handle("/cart/remove", a.user(a.RemoveFromCartHandler)).Methods("DELETE")
	api.Handle("/cart/remove/{productId}", a.user(a.RemoveFromCartHandler)).Methods("DELETE")
	api.Handle("/cart/clear", a.user(a.ClearCartHandler)).Methods("DELETE")

	// Checkout and orders
	api.Handle("/checkout/intent", a.user(a.CreatePaymentIntentHandler)).Methods("POST")
	api.Handle("/orders/create-payment-intent", a.user(a.CreatePaymentIntentHandler)).Methods("POST")
	api.Handle("/orders", a.user(a.CreateOrderHandler)).Methods("POST")
	api.Handle("/orders", a.user(a.ListOrdersHandler)).Methods("GET")
	api.Handle("/orders/admin", a.admin(a.ListAllOrdersHandler)).Methods("GET")
	api.Handle("/orders/{id}", a.user(a.GetOrderHandler)).Methods("GET")
	api.Handle("/orders/{id}/cancel", a.user(a.CancelOrderHandler)).Methods("POST")
	api.Handle("/orders/{id}/status", a.admin(a.UpdateOrderStatusHandler)).Methods("PUT")

	// Payments
	api.HandleFunc("/payments/config", a.PaymentConfigHandler).Methods("GET")
	api.HandleFunc("/payments/webhook", a.WebhookHandler).Methods("POST")

	// Admin
	api.Handle("/admin/dashboard/stats", a.admin(a.DashboardStatsHandler)).Methods("GET")
	api.Handle("/admin/products/stats", a.admin(a.ProductStatsHandler)).Methods("GET")
	api.Handle("/admin/users/stats", a.admin(a.UserStatsHandler)).Methods("GET")
	api.Handle("/admin/orders", a.admin(a.ListAllOrdersHandler)).Methods("GET")

	// Health and metrics
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

func (a *App) user(h http.HandlerFunc) http.Handler {
	return middleware.Authenticate(a.userService)(h)
}

func (a *App) optional(h http.HandlerFunc) http.Handler {
	return middleware.OptionalAuth(a.userService)(h)
}

func (a *App) admin(h http.HandlerFunc) http.Handler {
	return middleware.Authenticate(a.userService)(middleware.RequireRole(models.RoleAdmin)(h))
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
