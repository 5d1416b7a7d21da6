package services

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/checkout-api/internal/models"
)

func TestCartTotalsUseDiscountedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "100", 10, 5)

	cart, err := f.carts.AddItem(ctx, alice.UserID, "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.TotalItems)
	assert.Equal(t, "180", cart.TotalPrice.String())

	stored, err := f.store.GetCart(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "180", stored.TotalPrice.String(), "totals are persisted with the cart")
}

func TestCartMutations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "10", 0, 5)
	f.addProduct(t, "p2", "2.50", 0, 5)

	_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
	require.NoError(t, err)
	cart, err := f.carts.AddItem(ctx, alice.UserID, "p1", 2)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1, "adding an existing product merges lines")
	assert.Equal(t, 3, cart.Items[0].Quantity)

	cart, err = f.carts.AddItem(ctx, alice.UserID, "p2", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, productIDs(cart), "insertion order is kept")
	assert.Equal(t, "40", cart.TotalPrice.String())

	cart, err = f.carts.UpdateQuantity(ctx, alice.UserID, "p2", 1)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.TotalItems)

	cart, err = f.carts.UpdateQuantity(ctx, alice.UserID, "missing", 3)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2, "updating an absent line is a no-op")

	cart, err = f.carts.UpdateQuantity(ctx, alice.UserID, "p2", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, productIDs(cart))

	cart, err = f.carts.RemoveItem(ctx, alice.UserID, "p1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 0, cart.TotalItems)
	assert.True(t, cart.TotalPrice.IsZero())
}

func TestCartAddValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.addProduct(t, "p1", "10", 0, 5)

	var verr *ValidationError
	_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 0)
	assert.ErrorAs(t, err, &verr)

	_, err = f.carts.AddItem(ctx, alice.UserID, "ghost", 1)
	assert.ErrorIs(t, err, models.ErrNotFound)

	p.IsActive = false
	require.NoError(t, f.store.UpdateProduct(ctx, p))
	var gone *ProductUnavailableError
	_, err = f.carts.AddItem(ctx, alice.UserID, "p1", 1)
	assert.ErrorAs(t, err, &gone)
}

func TestCartLineQuantityCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "10", 0, 5)

	var verr *ValidationError
	_, err := f.carts.AddItem(ctx, alice.UserID, "p1", math.MaxInt)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "quantity", verr.Fields[0].Field)

	_, err = f.carts.AddItem(ctx, alice.UserID, "p1", models.MaxLineQuantity)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, alice.UserID, "p1", 1)
	require.ErrorAs(t, err, &verr, "merging past the cap is rejected")

	cart, err := f.carts.GetCart(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxLineQuantity, cart.Items[0].Quantity, "a rejected add leaves the line as it was")
	assert.Equal(t, "9990", cart.TotalPrice.String())

	_, err = f.carts.UpdateQuantity(ctx, alice.UserID, "p1", models.MaxLineQuantity+1)
	assert.ErrorAs(t, err, &verr)
}

func TestCartCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "10", 0, 5)
	f.addProduct(t, "p2", "3", 0, 5)

	n, err := f.carts.Count(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.carts.AddItem(ctx, alice.UserID, "p1", 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, alice.UserID, "p2", 3)
	require.NoError(t, err)
	n, err = f.carts.Count(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCartSkipsVanishedProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "10", 0, 5)
	f.addProduct(t, "p2", "7", 0, 5)

	_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, alice.UserID, "p2", 2)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteProduct(ctx, "p2"))

	cart, err := f.carts.GetCart(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2, "the dangling line stays in the cart")
	assert.Equal(t, 1, cart.TotalItems)
	assert.Equal(t, "10", cart.TotalPrice.String())
}

func TestGetCartWithoutCart(t *testing.T) {
	f := newFixture(t)
	cart, err := f.carts.GetCart(context.Background(), bob.UserID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, bob.UserID, cart.UserID)

	_, err = f.store.GetCart(context.Background(), bob.UserID)
	assert.ErrorIs(t, err, models.ErrNotFound, "reading does not create a cart")
}

func TestClearCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addProduct(t, "p1", "10", 0, 5)
	_, err := f.carts.AddItem(ctx, alice.UserID, "p1", 3)
	require.NoError(t, err)

	cart, err := f.carts.Clear(ctx, alice.UserID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 5, f.stock(t, "p1"), "cart edits never touch stock")
}

func productIDs(c *models.Cart) []string {
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}
