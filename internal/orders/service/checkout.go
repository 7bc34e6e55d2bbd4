package service

import (
	"context"
	"errors"
	"fmt"

	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/fjod/go_bakery/internal/orders/repository"
	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Checkout turns the owner's cart into a pending order. Every line is
// reserved in the ledger; if any line cannot be reserved the reservations
// taken so far are released and a *StockUnavailableError names the line.
// On success the cart is cleared.
//
// A non-empty idempotencyKey that already produced an order for this owner
// returns that order again without touching stock or the current cart.
func (s *OrderService) Checkout(ctx context.Context, owner domain.CartOwner, idempotencyKey string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Checkout",
		trace.WithAttributes(attribute.String("cart.owner", owner.Key())),
	)
	defer span.End()

	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.carts.CheckoutCart(ctx, owner, func(ctx context.Context, view *cartservice.CartView) error {
		if idempotencyKey != "" {
			existing, err := s.repo.GetOrderByIdempotencyKey(ctx, owner.Key(), idempotencyKey)
			if err == nil {
				order = existing
				return errReplay
			}
			if !errors.Is(err, repository.ErrOrderNotFound) {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
		}

		// the buyer has to see the smaller cart before paying for it
		if dropped := view.Dropped(); len(dropped) > 0 {
			return &ProductsUnavailableError{Lines: dropped}
		}
		if view.Cart.IsEmpty() {
			return ErrEmptyCart
		}

		reservations, err := s.reserveAll(ctx, view.Cart.Items)
		if err != nil {
			return err
		}

		created := s.newOrder(owner, idempotencyKey, view, reservations)
		if err := s.repo.CreateOrder(ctx, created); err != nil {
			s.releaseAll(ctx, reservations)
			if errors.Is(err, repository.ErrDuplicateCheckout) && idempotencyKey != "" {
				// lost a race against another instance with the same key
				existing, getErr := s.repo.GetOrderByIdempotencyKey(ctx, owner.Key(), idempotencyKey)
				if getErr == nil {
					order = existing
					return errReplay
				}
			}
			return fmt.Errorf("create order: %w", err)
		}
		order = created
		return nil
	})

	switch {
	case errors.Is(err, errReplay):
		s.metrics.Checkouts.WithLabelValues("replayed").Inc()
		span.SetAttributes(attribute.String("order.id", order.ID.String()), attribute.Bool("checkout.replayed", true))
		return order, nil
	case err != nil:
		s.metrics.Checkouts.WithLabelValues(checkoutResult(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.metrics.Checkouts.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.String("order.id", order.ID.String()))
	s.log.InfoContext(ctx, "order created",
		"order_id", order.ID.String(),
		"owner", order.Owner,
		"items", order.TotalItems(),
		"total", order.Total.StringFixed(2),
	)
	return order, nil
}

func (s *OrderService) reserveAll(ctx context.Context, items []domain.CartItem) ([]*domain.Reservation, error) {
	reservations := make([]*domain.Reservation, 0, len(items))
	for _, item := range items {
		reservation, err := s.stock.Reserve(ctx, item.ProductID, item.Quantity)
		if err == nil {
			s.metrics.Reservations.WithLabelValues("reserved").Inc()
			reservations = append(reservations, reservation)
			continue
		}

		s.releaseAll(ctx, reservations)
		if errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrProductNotFound) {
			s.metrics.Reservations.WithLabelValues("insufficient").Inc()
			available, availErr := s.stock.Available(ctx, item.ProductID)
			if availErr != nil {
				available = 0
			}
			return nil, &StockUnavailableError{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Available:   available,
			}
		}
		s.metrics.Reservations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reserve product %d: %w", item.ProductID, err)
	}
	return reservations, nil
}

// releaseAll is best effort; whatever it misses expires with the TTL.
func (s *OrderService) releaseAll(ctx context.Context, reservations []*domain.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, r := range reservations {
		if err := s.stock.Release(ctx, r.ID); err != nil {
			s.log.Warn("release reservation failed", "reservation_id", r.ID, "product_id", r.ProductID, "err", err)
		}
	}
}

func (s *OrderService) newOrder(owner domain.CartOwner, idempotencyKey string, view *cartservice.CartView, reservations []*domain.Reservation) *domain.Order {
	now := s.now()
	order := &domain.Order{
		ID:             uuid.New(),
		CartID:         view.Cart.ID,
		Owner:          owner.Key(),
		IdempotencyKey: idempotencyKey,
		Items:          make([]domain.OrderItem, len(view.Cart.Items)),
		Subtotal:       view.Totals.Subtotal,
		Tax:            view.Totals.Tax,
		Total:          view.Totals.Total,
		Currency:       domain.Currency,
		Status:         domain.OrderStatusPending,
		ReservationIDs: make([]string, len(reservations)),
		Transitions:    []domain.StatusTransition{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, item := range view.Cart.Items {
		order.Items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   pricing.LineTotal(pricing.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice}),
		}
	}
	for i, r := range reservations {
		order.ReservationIDs[i] = r.ID
		if i == 0 || r.ExpiresAt.Before(order.ReservationsExpireAt) {
			order.ReservationsExpireAt = r.ExpiresAt
		}
	}
	return order
}

func checkoutResult(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrStockUnavailable):
		return "stock_unavailable"
	case errors.Is(err, ErrCartChanged):
		return "cart_changed"
	default:
		return "error"
	}
}
