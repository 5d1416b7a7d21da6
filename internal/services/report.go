package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/storefront/checkout-api/internal/logging"
	"github.com/storefront/checkout-api/internal/metrics"
	"github.com/storefront/checkout-api/internal/models"
)

const (
	lowStockThreshold  = 10
	dailyRevenueDays   = 30
	topSellersLimit    = 10
	registrationMonths = 6
)

// ReportService builds the admin dashboard and feeds the gauges that need
// periodic sampling
type ReportService struct {
	store   ReportStore
	metrics *metrics.AppMetrics
	log     *slog.Logger
	now     func() time.Time
}

func NewReportService(store ReportStore, m *metrics.AppMetrics) *ReportService {
	return &ReportService{
		store:   store,
		metrics: m,
		log:     logging.New("report"),
		now:     time.Now,
	}
}

// DashboardStats runs every aggregate concurrently. Each figure is read
// independently, so totals may disagree slightly under concurrent writes.
func (s *ReportService) DashboardStats(ctx context.Context, actor Actor) (*models.DashboardStats, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dailySince := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(dailyRevenueDays - 1))

	var stats models.DashboardStats
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	run := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	run("total users", func() (err error) {
		stats.UserStats.TotalUsers, err = s.store.CountUsers(ctx, time.Time{})
		return err
	})
	run("new users", func() (err error) {
		stats.UserStats.NewUsersThisMonth, err = s.store.CountUsers(ctx, monthStart)
		return err
	})
	run("total orders", func() (err error) {
		stats.OrderStats.TotalOrders, err = s.store.CountOrders(ctx, time.Time{})
		return err
	})
	run("orders this month", func() (err error) {
		stats.OrderStats.OrdersThisMonth, err = s.store.CountOrders(ctx, monthStart)
		return err
	})
	run("status distribution", func() (err error) {
		stats.OrderStats.OrderStatusDistribution, err = s.store.OrderStatusDistribution(ctx)
		return err
	})
	run("total revenue", func() (err error) {
		stats.RevenueStats.TotalRevenue, err = s.store.Revenue(ctx, time.Time{})
		return err
	})
	run("revenue this month", func() (err error) {
		stats.RevenueStats.RevenueThisMonth, err = s.store.Revenue(ctx, monthStart)
		return err
	})
	run("daily revenue", func() (err error) {
		stats.RevenueStats.DailyRevenue, err = s.store.DailyRevenue(ctx, dailySince)
		return err
	})
	run("revenue by category", func() (err error) {
		stats.RevenueStats.RevenueByCategory, err = s.store.RevenueByCategory(ctx)
		return err
	})
	run("total products", func() (err error) {
		stats.ProductStats.TotalProducts, err = s.store.CountProducts(ctx)
		return err
	})
	run("low stock", func() (err error) {
		stats.ProductStats.LowStockProducts, err = s.store.CountLowStock(ctx, lowStockThreshold)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build dashboard: %w", err)
	}
	if stats.OrderStats.OrderStatusDistribution == nil {
		stats.OrderStats.OrderStatusDistribution = []models.StatusCount{}
	}
	if stats.RevenueStats.DailyRevenue == nil {
		stats.RevenueStats.DailyRevenue = []models.DailyRevenue{}
	}
	if stats.RevenueStats.RevenueByCategory == nil {
		stats.RevenueStats.RevenueByCategory = []models.CategoryRevenue{}
	}
	return &stats, nil
}

// ProductStats ranks the best sellers and counts the catalog per category
func (s *ReportService) ProductStats(ctx context.Context, actor Actor) (*models.ProductStats, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	var stats models.ProductStats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.TopSellingProducts, err = s.store.TopSellingProducts(ctx, topSellersLimit)
		return err
	})
	g.Go(func() (err error) {
		stats.ProductsByCategory, err = s.store.ProductsByCategory(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build product stats: %w", err)
	}
	if stats.TopSellingProducts == nil {
		stats.TopSellingProducts = []models.ProductSales{}
	}
	if stats.ProductsByCategory == nil {
		stats.ProductsByCategory = []models.CategoryCount{}
	}
	return &stats, nil
}

// UserStats reports sign-ups of the last six months plus status and role
// breakdowns. Months are labelled like "Mar 2024".
func (s *ReportService) UserStats(ctx context.Context, actor Actor) (*models.UserStats, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(registrationMonths - 1), 0)

	var stats models.UserStats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.RegistrationsByMonth, err = s.store.RegistrationsByMonth(ctx, since)
		return err
	})
	g.Go(func() (err error) {
		stats.ActiveUsers, err = s.store.CountUsersByStatus(ctx, true)
		return err
	})
	g.Go(func() (err error) {
		stats.InactiveUsers, err = s.store.CountUsersByStatus(ctx, false)
		return err
	})
	g.Go(func() (err error) {
		stats.UsersByRole, err = s.store.UsersByRole(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build user stats: %w", err)
	}

	for i, m := range stats.RegistrationsByMonth {
		if t, err := time.Parse("2006-01", m.Month); err == nil {
			stats.RegistrationsByMonth[i].Month = t.Format("Jan 2006")
		}
	}
	if stats.RegistrationsByMonth == nil {
		stats.RegistrationsByMonth = []models.MonthlyCount{}
	}
	if stats.UsersByRole == nil {
		stats.UsersByRole = []models.RoleCount{}
	}
	return &stats, nil
}

// UserOverview returns the headline user counters
func (s *ReportService) UserOverview(ctx context.Context, actor Actor) (*models.UserOverview, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	now := s.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var (
		out   models.UserOverview
		roles []models.RoleCount
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.TotalUsers, err = s.store.CountUsers(ctx, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		out.ActiveUsers, err = s.store.CountUsersByStatus(ctx, true)
		return err
	})
	g.Go(func() (err error) {
		out.NewUsersThisMonth, err = s.store.CountUsers(ctx, monthStart)
		return err
	})
	g.Go(func() (err error) {
		roles, err = s.store.UsersByRole(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to build user overview: %w", err)
	}
	for _, rc := range roles {
		if rc.Role == models.RoleAdmin {
			out.AdminUsers = rc.Count
		}
	}
	return &out, nil
}

// MonitorActiveCarts records the active carts gauge every interval until
// ctx is cancelled
func (s *ReportService) MonitorActiveCarts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleActiveCarts(ctx)
		}
	}
}

func (s *ReportService) sampleActiveCarts(ctx context.Context) {
	count, err := s.store.CountActiveCarts(ctx)
	if err != nil {
		s.log.Warn("failed to count active carts", "err", err)
		return
	}
	s.metrics.ActiveCartsCount.Record(ctx, count, s.metrics.Attrs())
}
