package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/storefront/checkout-api/internal/api"
	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/payment"
	"github.com/storefront/checkout-api/internal/services"
	"github.com/storefront/checkout-api/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Init(logging.Options{
		Service:   cfg.OTEL.ServiceName,
		Env:       cfg.App.Env,
		Level:     cfg.App.LogLevel,
		File:      cfg.App.LogFile,
		AddSource: cfg.App.Env != "production",
	})

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize OpenTelemetry metrics
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Warn("error shutting down meter provider", "error", err)
		}
	}()

	// Initialize storage
	store, err := openStore(ctx, cfg, appMetrics)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("error closing store", "error", err)
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("error closing event publisher", "error", err)
		}
	}()

	gateway := payment.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Timeout)

	// Initialize services
	productService := services.NewProductService(store, appMetrics)
	cartService := services.NewCartService(store, store, store, appMetrics)
	checkoutService := services.NewCheckoutService(services.CheckoutDeps{
		Products:  store,
		Carts:     store,
		Orders:    store,
		Tx:        store,
		Gateway:   gateway,
		Locker:    locker,
		Publisher: publisher,
		Pricing:   services.NewPricing(cfg),
		Metrics:   appMetrics,
	})
	orderService := services.NewOrderService(services.OrderDeps{
		Orders:    store,
		Products:  store,
		Tx:        store,
		Gateway:   gateway,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   appMetrics,
	})
	userService := services.NewUserService(store, cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	reportService := services.NewReportService(store, appMetrics)

	if cfg.Auth.AdminEmail != "" && cfg.Auth.AdminPassword != "" {
		if err := userService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("failed to seed admin account: %w", err)
		}
	}

	// Background jobs stop with ctx
	go reportService.MonitorActiveCarts(ctx, 30*time.Second)
	go productService.Purge(ctx, time.Minute)

	// Initialize app
	app := api.NewApp(cfg, appMetrics, api.Services{
		Products: productService,
		Carts:    cartService,
		Checkout: checkoutService,
		Orders:   orderService,
		Users:    userService,
		Reports:  reportService,
		Gateway:  gateway,
	})

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.ReadTimeout,
		WriteTimeout: cfg.App.WriteTimeout,
		IdleTimeout:  cfg.App.IdleTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"port", cfg.App.Port,
			"store", cfg.Store.Driver,
			"events", cfg.Events.Driver,
			"otlp_endpoint", cfg.OTEL.ExporterOTLPEndpoint,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	}

	log.Info("shutting down server")
	stop()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
