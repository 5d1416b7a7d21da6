package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/storefront/checkout-api/internal/middleware"
)

// CartItemRequest is the body of add and update calls
type CartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// GetCartHandler handles GET /api/v1/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	cart, err := a.cartService.GetCart(r.Context(), middleware.ActorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// AddToCartHandler handles POST /api/v1/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	var req CartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, err := a.cartService.AddItem(r.Context(), middleware.ActorFrom(r.Context()).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// UpdateCartHandler handles PUT /api/v1/cart/update
func (a *App) UpdateCartHandler(w http.ResponseWriter, r *http.Request) {
	var req CartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cart, err := a.cartService.UpdateQuantity(r.Context(), middleware.ActorFrom(r.Context()).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// CartRemoveRequest is the body of DELETE /cart/remove
type CartRemoveRequest struct {
	ProductID string `json:"product_id"`
}

// CartCountHandler handles GET /api/v1/cart/count
func (a *App) CartCountHandler(w http.ResponseWriter, r *http.Request) {
	n, err := a.cartService.Count(r.Context(), middleware.ActorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// RemoveFromCartHandler handles DELETE /api/v1/cart/remove with the product
// in the body, and DELETE /api/v1/cart/remove/{productId}
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	productID, ok := mux.Vars(r)["productId"]
	if !ok {
		var req CartRemoveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		productID = req.ProductID
	}
	cart, err := a.cartService.RemoveItem(r.Context(), middleware.ActorFrom(r.Context()).UserID, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// ClearCartHandler handles DELETE /api/v1/cart/clear
func (a *App) ClearCartHandler(w http.ResponseWriter, r *http.Request) {
	cart, err := a.cartService.Clear(r.Context(), middleware.ActorFrom(r.Context()).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}
