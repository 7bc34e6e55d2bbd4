package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client), mr
}

func sampleCart(owner string) *domain.Cart {
	return &domain.Cart{
		ID:    "c1",
		Owner: owner,
		Items: []domain.CartItem{
			{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("6.50")},
			{ProductID: 2, Quantity: 3, UnitPrice: decimal.RequireFromString("3.25")},
		},
		Version:   4,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	owner := "user:123"

	data, err := json.Marshal(sampleCart(owner))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(owner), string(data)))

	result, err := cache.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, owner, result.Owner)
	assert.Equal(t, int64(4), result.Version)
	require.Len(t, result.Items, 2)
	assert.True(t, decimal.RequireFromString("3.25").Equal(result.Items[1].UnitPrice))
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), "user:nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("user:1"), `{"id":"c1","items":[`))

	_, err := cache.Get(context.Background(), "user:1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_WithJitteredTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	owner := "session:abc"

	require.NoError(t, cache.Set(context.Background(), owner, sampleCart(owner)))

	assert.True(t, mr.Exists(cacheKey(owner)))
	ttl := mr.TTL(cacheKey(owner))
	assert.GreaterOrEqual(t, ttl, defaultBaseTTL)
	assert.Less(t, ttl, defaultBaseTTL+maxJitter)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	owner := "user:999"

	require.NoError(t, cache.Set(ctx, owner, sampleCart(owner)))
	require.NoError(t, cache.Delete(ctx, owner))
	assert.False(t, mr.Exists(cacheKey(owner)))

	// deleting a missing key is fine
	assert.NoError(t, cache.Delete(ctx, "user:none"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:user:42", cacheKey("user:42"))
}

func TestNopCache(t *testing.T) {
	var c CartCache = NopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "user:1", sampleCart("user:1")))
	_, err := c.Get(ctx, "user:1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Delete(ctx, "user:1"))
}
