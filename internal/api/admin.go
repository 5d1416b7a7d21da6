package api

import (
	"net/http"

	"github.com/storefront/checkout-api/internal/middleware"
)

// DashboardStatsHandler handles GET /api/v1/admin/dashboard/stats
func (a *App) DashboardStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.reportService.DashboardStats(r.Context(), middleware.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ProductStatsHandler handles GET /api/v1/admin/products/stats
func (a *App) ProductStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.reportService.ProductStats(r.Context(), middleware.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UserStatsHandler handles GET /api/v1/admin/users/stats
func (a *App) UserStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.reportService.UserStats(r.Context(), middleware.ActorFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
