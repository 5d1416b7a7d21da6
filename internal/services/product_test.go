package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/models"
)

func productInput(name string) ProductInput {
	return ProductInput{
		Name:     name,
		Price:    decimal.RequireFromString("19.99"),
		Stock:    4,
		Category: "mugs",
		Images:   []models.Image{{URL: "https://img.example/mug.jpg", Alt: "mug"}},
	}
}

func TestProductAdminWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.products.CreateProduct(ctx, alice, productInput("Mug"))
	assert.ErrorIs(t, err, ErrForbidden)

	p, err := f.products.CreateProduct(ctx, admin, productInput("Mug"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.IsActive, "new products default to active")

	in := productInput("Big Mug")
	off := false
	in.IsActive = &off
	updated, err := f.products.UpdateProduct(ctx, admin, p.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Big Mug", updated.Name)
	assert.False(t, updated.IsActive)
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)

	_, err = f.products.UpdateProduct(ctx, admin, "missing", productInput("x"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, f.products.DeleteProduct(ctx, admin, p.ID))
	assert.ErrorIs(t, f.products.DeleteProduct(ctx, admin, p.ID), models.ErrNotFound)
	assert.ErrorIs(t, f.products.DeleteProduct(ctx, bob, p.ID), ErrForbidden)
}

func TestProductInputValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		edit  func(*ProductInput)
		field string
	}{
		{"missing name", func(in *ProductInput) { in.Name = "" }, "name"},
		{"negative price", func(in *ProductInput) { in.Price = decimal.NewFromInt(-1) }, "price"},
		{"discount above 100", func(in *ProductInput) { in.Discount = 101 }, "discount"},
		{"negative stock", func(in *ProductInput) { in.Stock = -1 }, "stock"},
		{"image without url", func(in *ProductInput) { in.Images = []models.Image{{}} }, "images[0].url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := productInput("Mug")
			tt.edit(&in)
			_, err := f.products.CreateProduct(context.Background(), admin, in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestGetProductCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.addProduct(t, "p1", "10", 0, 5)

	got, err := f.products.GetProduct(ctx, alice, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Product p1", got.Name)

	// a write behind the service's back is not seen until the entry expires
	p.Name = "Renamed"
	require.NoError(t, f.store.UpdateProduct(ctx, p))
	got, err = f.products.GetProduct(ctx, alice, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Product p1", got.Name)

	// writes through the service invalidate
	_, err = f.products.UpdateProduct(ctx, admin, "p1", productInput("Fresh"))
	require.NoError(t, err)
	got, err = f.products.GetProduct(ctx, alice, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", got.Name)
}

func TestInactiveProductsHidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addProduct(t, "p1", "10", 0, 5)
	hidden := f.addProduct(t, "p2", "10", 0, 5)
	hidden.IsActive = false
	require.NoError(t, f.store.UpdateProduct(ctx, hidden))

	_, err := f.products.GetProduct(ctx, alice, "p2")
	assert.ErrorIs(t, err, models.ErrNotFound)
	got, err := f.products.GetProduct(ctx, admin, "p2")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	list, page, err := f.products.ListProducts(ctx, alice, models.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, int64(1), page.Total)

	list, _, err = f.products.ListProducts(ctx, admin, models.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
