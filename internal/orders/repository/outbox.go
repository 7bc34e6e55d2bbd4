package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/orders/publisher"
)

// DefaultOutboxBatch caps how many events one relay pass reads.
const DefaultOutboxBatch = 100

// OutboxEvent is an order event written in the same transaction as the
// order change it describes. The relay publishes it and marks it done.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

func newOutboxEvent(event publisher.OrderEvent) (*OutboxEvent, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", event.Type, err)
	}
	return &OutboxEvent{
		AggregateID: event.OrderID.String(),
		EventType:   string(event.Type),
		Payload:     payload,
		CreatedAt:   event.OccurredAt,
	}, nil
}

func orderCreatedEvent(order *domain.Order) (*OutboxEvent, error) {
	return newOutboxEvent(publisher.NewOrderCreated(order))
}

func statusChangedEvent(order *domain.Order, from domain.OrderStatus) (*OutboxEvent, error) {
	return newOutboxEvent(publisher.NewStatusChanged(order, from))
}
