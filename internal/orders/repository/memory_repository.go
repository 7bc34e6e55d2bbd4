package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
)

type idempotencyKey struct {
	owner string
	key   string
}

type MemoryRepository struct {
	mu          sync.RWMutex
	orders      map[uuid.UUID]*domain.Order
	idempotency map[idempotencyKey]uuid.UUID
	outbox      []*OutboxEvent
	nextEventID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:      make(map[uuid.UUID]*domain.Order),
		idempotency: make(map[idempotencyKey]uuid.UUID),
	}
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order *domain.Order) error {
	event, err := orderCreatedEvent(order)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return ErrDuplicateCheckout
	}
	if order.IdempotencyKey != "" {
		k := idempotencyKey{owner: order.Owner, key: order.IdempotencyKey}
		if _, ok := r.idempotency[k]; ok {
			return ErrDuplicateCheckout
		}
		r.idempotency[k] = order.ID
	}
	r.orders[order.ID] = order.Clone()
	r.enqueue(event)
	return nil
}

func (r *MemoryRepository) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (r *MemoryRepository) GetOrderByIdempotencyKey(_ context.Context, owner, key string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.idempotency[idempotencyKey{owner: owner, key: key}]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return r.orders[id].Clone(), nil
}

// ListOrdersByOwner returns newest first.
func (r *MemoryRepository) ListOrdersByOwner(_ context.Context, owner string) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range r.orders {
		if o.Owner == owner {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *MemoryRepository) ListExpiredPending(_ context.Context, now time.Time) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending && !o.ReservationsExpireAt.After(now) {
			orders = append(orders, o.Clone())
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ReservationsExpireAt.Before(orders[j].ReservationsExpireAt)
	})
	return orders, nil
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, order *domain.Order, from domain.OrderStatus) error {
	event, err := statusChangedEvent(order, from)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.Status != from {
		return ErrConcurrentUpdate
	}
	stored.Status = order.Status
	stored.Transitions = append(stored.Transitions[:0:0], order.Transitions...)
	stored.UpdatedAt = order.UpdatedAt
	r.enqueue(event)
	return nil
}

func (r *MemoryRepository) GetUnpublishedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultOutboxBatch
	}
	events := make([]*OutboxEvent, 0, min(limit, len(r.outbox)))
	for _, e := range r.outbox[:min(limit, len(r.outbox))] {
		clone := *e
		events = append(events, &clone)
	}
	return events, nil
}

// MarkEventPublished drops the event; marking an unknown id is a no-op.
func (r *MemoryRepository) MarkEventPublished(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.outbox = slices.DeleteFunc(r.outbox, func(e *OutboxEvent) bool { return e.ID == id })
	return nil
}

// must hold r.mu
func (r *MemoryRepository) enqueue(event *OutboxEvent) {
	r.nextEventID++
	event.ID = r.nextEventID
	r.outbox = append(r.outbox, event)
}

func (r *MemoryRepository) Close() error {
	return nil
}
