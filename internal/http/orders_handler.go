package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// OrderAPI is the order lifecycle as seen by the HTTP layer.
type OrderAPI interface {
	Checkout(ctx context.Context, owner domain.CartOwner, idempotencyKey string) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, owner domain.CartOwner) ([]*domain.Order, error)
	Advance(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error)
}

type OrdersHandler struct {
	orders OrderAPI
	log    *slog.Logger
}

func NewOrdersHandler(orders OrderAPI, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

type OrderItemDTO struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type StatusTransitionDTO struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
}

type OrderResponseDTO struct {
	ID                   string                `json:"id"`
	CartID               string                `json:"cart_id"`
	Status               string                `json:"status"`
	Items                []OrderItemDTO        `json:"items"`
	Subtotal             string                `json:"subtotal"`
	Tax                  string                `json:"tax"`
	Total                string                `json:"total"`
	Currency             string                `json:"currency"`
	ReservationsExpireAt string                `json:"reservations_expire_at,omitempty"`
	Transitions          []StatusTransitionDTO `json:"transitions"`
	CreatedAt            string                `json:"created_at"`
	UpdatedAt            string                `json:"updated_at"`
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status" validate:"required"`
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), owner)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, convertOrder(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{id}
//
// Orders of other owners are reported as missing.
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if order.Owner != owner.Key() {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}

// POST /api/v1/admin/orders/{id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequestDTO
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.orders.Advance(r.Context(), id, domain.OrderStatus(req.Status))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertOrder(order))
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func convertOrder(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   item.LineTotal.StringFixed(2),
		})
	}

	transitions := make([]StatusTransitionDTO, 0, len(o.Transitions))
	for _, t := range o.Transitions {
		transitions = append(transitions, StatusTransitionDTO{
			From: t.From.String(),
			To:   t.To.String(),
			At:   t.At.UTC().Format(time.RFC3339),
		})
	}

	dto := OrderResponseDTO{
		ID:          o.ID.String(),
		CartID:      o.CartID,
		Status:      o.Status.String(),
		Items:       items,
		Subtotal:    o.Subtotal.StringFixed(2),
		Tax:         o.Tax.StringFixed(2),
		Total:       o.Total.StringFixed(2),
		Currency:    o.Currency,
		Transitions: transitions,
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if o.Status == domain.OrderStatusPending && !o.ReservationsExpireAt.IsZero() {
		dto.ReservationsExpireAt = o.ReservationsExpireAt.UTC().Format(time.RFC3339)
	}
	return dto
}
