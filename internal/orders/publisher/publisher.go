package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
)

type OrderEvent struct {
	Type           EventType          `json:"event_type"`
	OrderID        uuid.UUID          `json:"order_id"`
	Owner          string             `json:"owner"`
	Status         domain.OrderStatus `json:"status"`
	PreviousStatus domain.OrderStatus `json:"previous_status,omitempty"`
	Items          []domain.OrderItem `json:"items,omitempty"`
	Total          decimal.Decimal    `json:"total"`
	Currency       string             `json:"currency"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

func NewOrderCreated(o *domain.Order) OrderEvent {
	return OrderEvent{
		Type:       EventOrderCreated,
		OrderID:    o.ID,
		Owner:      o.Owner,
		Status:     o.Status,
		Items:      o.Items,
		Total:      o.Total,
		Currency:   o.Currency,
		OccurredAt: o.CreatedAt,
	}
}

func NewStatusChanged(o *domain.Order, from domain.OrderStatus) OrderEvent {
	return OrderEvent{
		Type:           EventOrderStatusChanged,
		OrderID:        o.ID,
		Owner:          o.Owner,
		Status:         o.Status,
		PreviousStatus: from,
		Total:          o.Total,
		Currency:       o.Currency,
		OccurredAt:     o.UpdatedAt,
	}
}

// Publisher announces order lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}
