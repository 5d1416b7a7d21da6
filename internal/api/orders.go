package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

// OrderList is a page of orders
type OrderList struct {
	Orders     []models.Order    `json:"orders"`
	Pagination models.Pagination `json:"pagination"`
}

// StatusRequest is the admin status change body
type StatusRequest struct {
	Status         models.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number"`
}

// CreatePaymentIntentHandler handles POST /api/v1/checkout/intent
func (a *App) CreatePaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	var req services.IntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := a.checkoutService.CreatePaymentIntent(r.Context(), middleware.ActorFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateOrderHandler handles POST /api/v1/orders. Repeating the call for the
// same payment intent returns the existing order with 200.
func (a *App) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req services.FinalizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, created, err := a.checkoutService.FinalizeOrder(r.Context(), middleware.ActorFrom(r.Context()).UserID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, order)
}

// ListOrdersHandler handles GET /api/v1/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	f := models.OrderFilter{
		Page:   pageFromQuery(r),
		Status: models.OrderStatus(r.URL.Query().Get("status")),
	}
	orders, page, err := a.orderService.ListOrders(r.Context(), middleware.ActorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrderList(w, orders, page)
}

// ListAllOrdersHandler handles GET /api/v1/orders/admin and /api/v1/admin/orders
func (a *App) ListAllOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.OrderFilter{
		Page:   pageFromQuery(r),
		Status: models.OrderStatus(q.Get("status")),
		UserID: q.Get("user_id"),
	}
	orders, page, err := a.orderService.ListAllOrders(r.Context(), middleware.ActorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrderList(w, orders, page)
}

func writeOrderList(w http.ResponseWriter, orders []models.Order, page models.Pagination) {
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, OrderList{Orders: orders, Pagination: page})
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := a.orderService.GetOrder(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrderHandler handles POST /api/v1/orders/{id}/cancel
func (a *App) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := a.orderService.Cancel(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler handles PUT /api/v1/orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	order, err := a.orderService.SetStatus(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"], req.Status, req.TrackingNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}
