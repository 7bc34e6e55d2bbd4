package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	cartrepo "github.com/fjod/go_bakery/internal/cart/repository"
	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	orderrepo "github.com/fjod/go_bakery/internal/orders/repository"
	orderservice "github.com/fjod/go_bakery/internal/orders/service"
	"github.com/sony/gobreaker/v2"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// StockUnavailableDetails is attached to 409 stock_unavailable responses.
type StockUnavailableDetails struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int32  `json:"requested"`
	Available   int32  `json:"available"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError maps errors from the cart and order services to HTTP
// responses. Anything unrecognised is logged and hidden behind a 500.
func respondServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var stockErr *orderservice.StockUnavailableError
	var droppedErr *orderservice.ProductsUnavailableError
	var transitionErr *domain.InvalidTransitionError

	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: stockErr.Error(),
			Code:  "stock_unavailable",
			Details: StockUnavailableDetails{
				ProductID:   stockErr.ProductID,
				ProductName: stockErr.ProductName,
				Requested:   stockErr.Requested,
				Available:   stockErr.Available,
			},
		})
	case errors.As(err, &droppedErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:   droppedErr.Error(),
			Code:    "products_unavailable",
			Details: droppedErr.Lines,
		})
	case errors.As(err, &transitionErr):
		respondError(w, http.StatusConflict, "invalid_transition", transitionErr.Error())
	case errors.Is(err, domain.ErrInvalidOwner):
		respondError(w, http.StatusBadRequest, "invalid_owner", err.Error())
	case errors.Is(err, orderservice.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, store.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, cartservice.ErrProductNotFound),
		errors.Is(err, orderrepo.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, orderservice.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, store.ErrReservationExpired),
		errors.Is(err, store.ErrUnknownReservation):
		respondError(w, http.StatusConflict, "reservation_expired", "the order's stock reservations have lapsed")
	case errors.Is(err, cartrepo.ErrConcurrentModification),
		errors.Is(err, orderrepo.ErrConcurrentUpdate):
		respondError(w, http.StatusConflict, "conflict", "concurrent update, please retry")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
