package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCart(owner string) *domain.Cart {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Cart{
		ID:    "cart-" + owner,
		Owner: owner,
		Items: []domain.CartItem{
			{ProductID: 1, ProductName: "Sourdough Loaf", Quantity: 2, UnitPrice: decimal.RequireFromString("6.50"), AddedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// exercised against every CartRepository implementation
func testRepositoryContract(t *testing.T, repo CartRepository) {
	ctx := context.Background()
	owner := "user:" + t.Name()

	_, err := repo.GetCart(ctx, owner)
	require.ErrorIs(t, err, ErrCartNotFound)

	cart := newCart(owner)
	require.NoError(t, repo.SaveCart(ctx, cart))
	assert.Equal(t, int64(1), cart.Version)

	stored, err := repo.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stored.ID)
	assert.Equal(t, int64(1), stored.Version)
	require.Len(t, stored.Items, 1)
	assert.True(t, decimal.RequireFromString("6.50").Equal(stored.Items[0].UnitPrice))
	assert.Equal(t, int32(2), stored.Items[0].Quantity)

	// a second writer holding the old version loses
	stale := stored.Clone()
	stored.SetItemQuantity(2, 1, time.Now())
	require.NoError(t, repo.SaveCart(ctx, stored))
	assert.Equal(t, int64(2), stored.Version)

	stale.SetItemQuantity(1, 9, time.Now())
	assert.ErrorIs(t, repo.SaveCart(ctx, stale), ErrConcurrentModification)

	// inserting over an existing cart is a conflict too
	assert.ErrorIs(t, repo.SaveCart(ctx, newCart(owner)), ErrConcurrentModification)

	current, err := repo.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, current.Items, 2)
	assert.Equal(t, int32(2), current.Item(1).Quantity)

	require.NoError(t, repo.DeleteCart(ctx, owner))
	assert.ErrorIs(t, repo.DeleteCart(ctx, owner), ErrCartNotFound)
	_, err = repo.GetCart(ctx, owner)
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	cart := newCart("session:abc")
	require.NoError(t, repo.SaveCart(ctx, cart))
	cart.Items[0].Quantity = 100

	stored, err := repo.GetCart(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), stored.Items[0].Quantity)

	stored.Items[0].Quantity = 50
	again, _ := repo.GetCart(ctx, "session:abc")
	assert.Equal(t, int32(2), again.Items[0].Quantity)
}

func TestMemoryRepository_SaveUnknownVersion(t *testing.T) {
	repo := NewMemoryRepository()
	cart := newCart("user:1")
	cart.Version = 3

	assert.ErrorIs(t, repo.SaveCart(context.Background(), cart), ErrConcurrentModification)
}
