package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestOrder(owner, key string, createdAt time.Time) *domain.Order {
	return &domain.Order{
		ID:             uuid.New(),
		CartID:         uuid.NewString(),
		Owner:          owner,
		IdempotencyKey: key,
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Sourdough Loaf", Quantity: 2, UnitPrice: decimal.RequireFromString("5.00"), LineTotal: decimal.RequireFromString("10.00")},
		},
		Subtotal:             decimal.RequireFromString("10.00"),
		Tax:                  decimal.RequireFromString("1.00"),
		Total:                decimal.RequireFromString("11.00"),
		Currency:             domain.Currency,
		Status:               domain.OrderStatusPending,
		ReservationIDs:       []string{uuid.NewString()},
		ReservationsExpireAt: createdAt.Add(15 * time.Minute),
		Transitions:          []domain.StatusTransition{},
		CreatedAt:            createdAt,
		UpdatedAt:            createdAt,
	}
}

// exercised against every OrderRepository implementation
func testRepositoryContract(t *testing.T, repo OrderRepository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		order := newTestOrder("user:get", "key-1", baseTime)
		require.NoError(t, repo.CreateOrder(ctx, order))

		got, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.Owner, got.Owner)
		assert.Equal(t, order.ReservationIDs, got.ReservationIDs)
		assert.True(t, order.Total.Equal(got.Total))
		require.Len(t, got.Items, 1)
		assert.True(t, decimal.RequireFromString("5.00").Equal(got.Items[0].UnitPrice))
		assert.True(t, order.ReservationsExpireAt.Equal(got.ReservationsExpireAt))

		_, err = repo.GetOrderByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("idempotency key is unique per owner", func(t *testing.T) {
		first := newTestOrder("user:idem", "key-2", baseTime)
		require.NoError(t, repo.CreateOrder(ctx, first))

		err := repo.CreateOrder(ctx, newTestOrder("user:idem", "key-2", baseTime))
		assert.ErrorIs(t, err, ErrDuplicateCheckout)

		// same key, other owner
		require.NoError(t, repo.CreateOrder(ctx, newTestOrder("user:other", "key-2", baseTime)))

		// orders without a key never collide
		require.NoError(t, repo.CreateOrder(ctx, newTestOrder("user:idem", "", baseTime)))
		require.NoError(t, repo.CreateOrder(ctx, newTestOrder("user:idem", "", baseTime)))

		got, err := repo.GetOrderByIdempotencyKey(ctx, "user:idem", "key-2")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = repo.GetOrderByIdempotencyKey(ctx, "user:idem", "nope")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		older := newTestOrder("user:list", "", baseTime)
		newer := newTestOrder("user:list", "", baseTime.Add(time.Hour))
		require.NoError(t, repo.CreateOrder(ctx, older))
		require.NoError(t, repo.CreateOrder(ctx, newer))

		orders, err := repo.ListOrdersByOwner(ctx, "user:list")
		require.NoError(t, err)
		require.Len(t, orders, 2)
		assert.Equal(t, newer.ID, orders[0].ID)
		assert.Equal(t, older.ID, orders[1].ID)

		none, err := repo.ListOrdersByOwner(ctx, "user:nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("update status compare and set", func(t *testing.T) {
		order := newTestOrder("user:update", "", baseTime)
		require.NoError(t, repo.CreateOrder(ctx, order))

		require.NoError(t, order.Transition(domain.OrderStatusProcessing, baseTime.Add(time.Minute)))
		require.NoError(t, repo.UpdateOrderStatus(ctx, order, domain.OrderStatusPending))

		got, err := repo.GetOrderByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusProcessing, got.Status)
		require.Len(t, got.Transitions, 1)
		assert.Equal(t, domain.OrderStatusPending, got.Transitions[0].From)

		// a stale writer still believing the order is pending loses
		stale := got.Clone()
		stale.Status = domain.OrderStatusCancelled
		err = repo.UpdateOrderStatus(ctx, stale, domain.OrderStatusPending)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)

		missing := newTestOrder("user:update", "", baseTime)
		err = repo.UpdateOrderStatus(ctx, missing, domain.OrderStatusPending)
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("list expired pending", func(t *testing.T) {
		now := baseTime.Add(24 * time.Hour)
		expired := newTestOrder("user:expiry", "", now.Add(-time.Hour))
		fresh := newTestOrder("user:expiry", "", now)
		processing := newTestOrder("user:expiry", "", now.Add(-time.Hour))
		processing.Status = domain.OrderStatusProcessing
		for _, o := range []*domain.Order{expired, fresh, processing} {
			require.NoError(t, repo.CreateOrder(ctx, o))
		}

		orders, err := repo.ListExpiredPending(ctx, now)
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		assert.Contains(t, ids, expired.ID)
		assert.NotContains(t, ids, fresh.ID)
		assert.NotContains(t, ids, processing.ID)
	})

	t.Run("outbox follows order writes", func(t *testing.T) {
		drainOutbox(t, repo)

		order := newTestOrder("user:outbox", "key-outbox", baseTime)
		require.NoError(t, repo.CreateOrder(ctx, order))
		// rejected writes leave no event behind
		require.ErrorIs(t, repo.CreateOrder(ctx, newTestOrder("user:outbox", "key-outbox", baseTime)), ErrDuplicateCheckout)

		updated := order.Clone()
		require.NoError(t, updated.Transition(domain.OrderStatusCancelled, baseTime.Add(time.Minute)))
		require.NoError(t, repo.UpdateOrderStatus(ctx, updated, domain.OrderStatusPending))
		require.ErrorIs(t, repo.UpdateOrderStatus(ctx, updated, domain.OrderStatusPending), ErrConcurrentUpdate)

		events, err := repo.GetUnpublishedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "order.created", events[0].EventType)
		assert.Equal(t, "order.status_changed", events[1].EventType)
		assert.Less(t, events[0].ID, events[1].ID)
		for _, e := range events {
			assert.Equal(t, order.ID.String(), e.AggregateID)
		}

		var payload struct {
			Status         string `json:"status"`
			PreviousStatus string `json:"previous_status"`
		}
		require.NoError(t, json.Unmarshal(events[1].Payload, &payload))
		assert.Equal(t, "cancelled", payload.Status)
		assert.Equal(t, "pending", payload.PreviousStatus)

		limited, err := repo.GetUnpublishedEvents(ctx, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, events[0].ID, limited[0].ID)

		require.NoError(t, repo.MarkEventPublished(ctx, events[0].ID))
		require.NoError(t, repo.MarkEventPublished(ctx, events[0].ID))

		left, err := repo.GetUnpublishedEvents(ctx, 10)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, events[1].ID, left[0].ID)
	})
}

func drainOutbox(t *testing.T, repo OrderRepository) {
	t.Helper()
	ctx := context.Background()
	for {
		events, err := repo.GetUnpublishedEvents(ctx, 100)
		require.NoError(t, err)
		if len(events) == 0 {
			return
		}
		for _, e := range events {
			require.NoError(t, repo.MarkEventPublished(ctx, e.ID))
		}
	}
}

func TestMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, NewMemoryRepository())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	order := newTestOrder("user:1", "", baseTime)
	require.NoError(t, repo.CreateOrder(ctx, order))

	order.Items[0].Quantity = 99
	got, err := repo.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Items[0].Quantity)
}
