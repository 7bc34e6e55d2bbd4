package http

import (
	"log/slog"
	"net/http"
	"strings"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type CheckoutHandler struct {
	orders OrderAPI
	log    *slog.Logger
}

func NewCheckoutHandler(orders OrderAPI, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{orders: orders, log: log}
}

type CheckoutRequestDTO struct {
	IdempotencyKey string `validate:"omitempty,max=128,printascii"`
}

// POST /api/v1/checkout
//
// Retrying with the same Idempotency-Key returns the order created by the
// first attempt instead of placing a second one.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}

	req := CheckoutRequestDTO{IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key",
			HeaderIdempotencyKey+" must be at most 128 printable ASCII characters")
		return
	}

	order, err := h.orders.Checkout(r.Context(), owner, req.IdempotencyKey)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, convertOrder(order))
}
