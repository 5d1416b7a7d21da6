package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/storefront/checkout-api/internal/middleware"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/storefront/checkout-api/internal/services"
)

// ProductList is a page of the catalog
type ProductList struct {
	Products   []models.Product  `json:"products"`
	Pagination models.Pagination `json:"pagination"`
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ProductFilter{
		Page:     pageFromQuery(r),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
	if featured, err := strconv.ParseBool(q.Get("featured")); err == nil {
		f.Featured = featured
	}

	products, page, err := a.productService.ListProducts(r.Context(), middleware.ActorFrom(r.Context()), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	writeJSON(w, http.StatusOK, ProductList{Products: products, Pagination: page})
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	product, err := a.productService.GetProduct(r.Context(), middleware.ActorFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/v1/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req services.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := a.productService.CreateProduct(r.Context(), middleware.ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /api/v1/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req services.ProductInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := a.productService.UpdateProduct(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// DeleteProductHandler handles DELETE /api/v1/products/{id}
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.productService.DeleteProduct(r.Context(), middleware.ActorFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}
