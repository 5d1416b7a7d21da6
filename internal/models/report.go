package models

import "github.com/shopspring/decimal"

// StatusCount is one bucket of the order status distribution
type StatusCount struct {
	Status OrderStatus `json:"status"`
	Count  int64       `json:"count"`
}

// DailyRevenue is the revenue of non-cancelled orders for one day (YYYY-MM-DD)
type DailyRevenue struct {
	Day     string          `json:"day"`
	Revenue decimal.Decimal `json:"revenue"`
}

// CategoryRevenue is revenue grouped by the current product category
type CategoryRevenue struct {
	Category string          `json:"category"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// DashboardStats is the point-in-time admin dashboard snapshot
type DashboardStats struct {
	UserStats struct {
		TotalUsers        int64 `json:"total_users"`
		NewUsersThisMonth int64 `json:"new_users_this_month"`
	} `json:"user_stats"`
	OrderStats struct {
		TotalOrders             int64         `json:"total_orders"`
		OrdersThisMonth         int64         `json:"orders_this_month"`
		OrderStatusDistribution []StatusCount `json:"order_status_distribution"`
	} `json:"order_stats"`
	RevenueStats struct {
		TotalRevenue      decimal.Decimal   `json:"total_revenue"`
		RevenueThisMonth  decimal.Decimal   `json:"revenue_this_month"`
		DailyRevenue      []DailyRevenue    `json:"daily_revenue"`
		RevenueByCategory []CategoryRevenue `json:"revenue_by_category"`
	} `json:"revenue_stats"`
	ProductStats struct {
		TotalProducts    int64 `json:"total_products"`
		LowStockProducts int64 `json:"low_stock_products"`
	} `json:"product_stats"`
}

// ProductSales is units sold and revenue of one product over every
// non-cancelled order
type ProductSales struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	TotalSold int64           `json:"total_sold"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// CategoryCount is the number of catalog products in a category
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

type ProductStats struct {
	TopSellingProducts []ProductSales  `json:"top_selling_products"`
	ProductsByCategory []CategoryCount `json:"products_by_category"`
}

// MonthlyCount counts registrations in one calendar month. Stores report
// Month as YYYY-MM.
type MonthlyCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

type RoleCount struct {
	Role  Role  `json:"role"`
	Count int64 `json:"count"`
}

type UserStats struct {
	RegistrationsByMonth []MonthlyCount `json:"registrations_by_month"`
	ActiveUsers          int64          `json:"active_users"`
	InactiveUsers        int64          `json:"inactive_users"`
	UsersByRole          []RoleCount    `json:"users_by_role"`
}

// UserOverview is the headline user figures of the back office
type UserOverview struct {
	TotalUsers        int64 `json:"total_users"`
	ActiveUsers       int64 `json:"active_users"`
	AdminUsers        int64 `json:"admin_users"`
	NewUsersThisMonth int64 `json:"new_users_this_month"`
}
