package domain

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const Currency = "USD"

// OrderItem is frozen at checkout; its price is never recomputed.
type OrderItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type StatusTransition struct {
	From OrderStatus `json:"from"`
	To   OrderStatus `json:"to"`
	At   time.Time   `json:"at"`
}

type Order struct {
	ID                   uuid.UUID          `json:"id"`
	CartID               string             `json:"cart_id"`
	Owner                string             `json:"owner"`
	IdempotencyKey       string             `json:"idempotency_key,omitempty"`
	Items                []OrderItem        `json:"items"`
	Subtotal             decimal.Decimal    `json:"subtotal"`
	Tax                  decimal.Decimal    `json:"tax"`
	Total                decimal.Decimal    `json:"total"`
	Currency             string             `json:"currency"`
	Status               OrderStatus        `json:"status"`
	ReservationIDs       []string           `json:"-"`
	ReservationsExpireAt time.Time          `json:"reservations_expire_at"`
	Transitions          []StatusTransition `json:"transitions"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// InvalidTransitionError is returned when a status change is not allowed by
// the order state machine.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

// Transition moves the order to status to. The order is left untouched when
// the step is illegal.
func (o *Order) Transition(to OrderStatus, at time.Time) error {
	if !CanTransitionTo(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Transitions = append(o.Transitions, StatusTransition{From: o.Status, To: to, At: at})
	o.Status = to
	o.UpdatedAt = at
	return nil
}

// TotalItems returns the sum of line quantities.
func (o *Order) TotalItems() int32 {
	var n int32
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	clone := *o
	clone.Items = slices.Clone(o.Items)
	clone.ReservationIDs = slices.Clone(o.ReservationIDs)
	clone.Transitions = slices.Clone(o.Transitions)
	return &clone
}
