package service

import (
	"context"
	"log/slog"
	"time"

	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/fjod/go_bakery/internal/orders/repository"
	"github.com/fjod/go_bakery/pkg/keylock"
	"github.com/fjod/go_bakery/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fjod/go_bakery/internal/orders/service"

// CartCheckout hands a locked, repriced cart to a checkout func and clears it
// when the func succeeds.
type CartCheckout interface {
	CheckoutCart(ctx context.Context, owner domain.CartOwner, fn cartservice.CheckoutFunc) error
}

// Ledger is the part of the stock ledger the order lifecycle drives.
type Ledger interface {
	Available(ctx context.Context, productID int64) (int32, error)
	Reserve(ctx context.Context, productID int64, quantity int32) (*domain.Reservation, error)
	Release(ctx context.Context, reservationID string) error
	Commit(ctx context.Context, reservationIDs ...string) error
}

var _ Ledger = (store.InventoryStore)(nil)

// OrderService drives checkout and the order state machine. Order events
// are not published from here; the repository writes them to its outbox in
// the same transaction as the order change.
type OrderService struct {
	carts   CartCheckout
	stock   Ledger
	repo    repository.OrderRepository
	metrics *metrics.StockMetrics
	locks   *keylock.Locker
	tracer  trace.Tracer
	log     *slog.Logger
	now     func() time.Time
}

func NewOrderService(
	carts CartCheckout,
	stock Ledger,
	repo repository.OrderRepository,
	m *metrics.StockMetrics,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		carts:   carts,
		stock:   stock,
		repo:    repo,
		metrics: m,
		locks:   keylock.New(),
		tracer:  otel.Tracer(tracerName),
		log:     log,
		now:     time.Now,
	}
}

func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// ListOrders returns the owner's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, owner domain.CartOwner) ([]*domain.Order, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByOwner(ctx, owner.Key())
}
