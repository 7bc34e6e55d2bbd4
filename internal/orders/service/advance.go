package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Advance moves an order along its state machine. Completing commits the
// order's reservations, cancelling releases them. When the step is illegal
// or the ledger call fails the order is left as it was.
func (s *OrderService) Advance(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Advance",
		trace.WithAttributes(
			attribute.String("order.id", id.String()),
			attribute.String("order.target_status", target.String()),
		),
	)
	defer span.End()

	order, err := s.advance(ctx, id, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return order, nil
}

func (s *OrderService) advance(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}

	unlock := s.locks.Lock(id.String())
	defer unlock()

	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if !domain.CanTransitionTo(from, target) {
		return nil, &domain.InvalidTransitionError{From: from, To: target}
	}

	switch target {
	case domain.OrderStatusCompleted:
		if err := s.stock.Commit(ctx, order.ReservationIDs...); err != nil {
			return nil, fmt.Errorf("commit reservations of order %s: %w", id, err)
		}
	case domain.OrderStatusCancelled:
		for _, reservationID := range order.ReservationIDs {
			if err := s.stock.Release(ctx, reservationID); err != nil {
				return nil, fmt.Errorf("release reservation %s of order %s: %w", reservationID, id, err)
			}
		}
	}

	updated := order.Clone()
	if err := updated.Transition(target, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateOrderStatus(ctx, updated, from); err != nil {
		if target == domain.OrderStatusCompleted {
			s.log.ErrorContext(ctx, "reservations committed but order status not saved",
				"order_id", id.String(), "err", err)
		}
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}

	s.metrics.OrderTransitions.WithLabelValues(target.String()).Inc()
	s.log.InfoContext(ctx, "order status changed",
		"order_id", id.String(), "from", from.String(), "to", target.String())
	return updated, nil
}

// ExpirePending cancels pending orders whose reservations have lapsed and
// returns how many it cancelled.
func (s *OrderService) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	orders, err := s.repo.ListExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired pending orders: %w", err)
	}

	cancelled := 0
	for _, order := range orders {
		_, err := s.Advance(ctx, order.ID, domain.OrderStatusCancelled)
		var invalid *domain.InvalidTransitionError
		switch {
		case err == nil:
			cancelled++
		case errors.As(err, &invalid):
			// advanced by someone else since the listing
		default:
			s.log.WarnContext(ctx, "expire pending order failed", "order_id", order.ID.String(), "err", err)
		}
	}
	return cancelled, nil
}

// SweepHook adapts ExpirePending to run after each ledger sweep.
func (s *OrderService) SweepHook() store.SweepHook {
	return func(ctx context.Context, now time.Time) {
		n, err := s.ExpirePending(ctx, now)
		if err != nil {
			s.log.Error("expire pending orders failed", "err", err)
			return
		}
		if n > 0 {
			s.log.Info("expired pending orders cancelled", "count", n)
		}
	}
}
