package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateCheckout = errors.New("order for this idempotency key already exists")
	ErrConcurrentUpdate  = errors.New("order status changed concurrently")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OrderRepository interface {
	// CreateOrder stores the order together with its order.created outbox
	// event.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, owner, key string) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, owner string) ([]*domain.Order, error)
	// ListExpiredPending returns pending orders whose reservations expired
	// at or before now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*domain.Order, error)
	// UpdateOrderStatus persists order's status and transition history only
	// if the stored status is still from, and queues an
	// order.status_changed outbox event with it.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error

	// GetUnpublishedEvents returns up to limit outbox events in the order
	// they were written.
	GetUnpublishedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventPublished(ctx context.Context, id int64) error

	Close() error
}
