package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	cartservice "github.com/fjod/go_bakery/internal/cart/service"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CartAPI is the cart engine as seen by the HTTP layer.
type CartAPI interface {
	GetCart(ctx context.Context, owner domain.CartOwner) (*cartservice.CartView, error)
	AddItem(ctx context.Context, owner domain.CartOwner, productID int64, delta int32) (*cartservice.CartView, error)
	SetQuantity(ctx context.Context, owner domain.CartOwner, productID int64, quantity int32) (*cartservice.CartView, error)
	RemoveItem(ctx context.Context, owner domain.CartOwner, productID int64) (*cartservice.CartView, error)
	Clear(ctx context.Context, owner domain.CartOwner) (*cartservice.CartView, error)
}

type CartHandler struct {
	carts CartAPI
	log   *slog.Logger
}

func NewCartHandler(carts CartAPI, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, log: log}
}

// AddItemRequestDTO carries a quantity delta; negative values shrink the line.
type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gte=-999,lte=999"`
}

// UpdateQuantityRequestDTO sets an absolute quantity; zero removes the line.
type UpdateQuantityRequestDTO struct {
	Quantity int32 `json:"quantity" validate:"gte=0,lte=999"`
}

type CartItemDTO struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

type CartResponseDTO struct {
	Owner        string                        `json:"owner"`
	Items        []CartItemDTO                 `json:"items"`
	TotalItems   int32                         `json:"total_items"`
	Subtotal     string                        `json:"subtotal"`
	Tax          string                        `json:"tax"`
	Total        string                        `json:"total"`
	Currency     string                        `json:"currency"`
	StockLimited bool                          `json:"stock_limited"`
	Adjustments  []cartservice.StockAdjustment `json:"adjustments"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}

	view, err := h.carts.GetCart(r.Context(), owner)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCartView(view))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}

	var req AddItemRequestDTO
	if !decodeRequest(w, r, &req) {
		return
	}

	view, err := h.carts.AddItem(r.Context(), owner, req.ProductID, req.Quantity)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCartView(view))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if !decodeRequest(w, r, &req) {
		return
	}

	view, err := h.carts.SetQuantity(r.Context(), owner, productID, req.Quantity)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCartView(view))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(r.Context(), owner, productID)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCartView(view))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_owner", "missing cart owner")
		return
	}

	view, err := h.carts.Clear(r.Context(), owner)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, convertCartView(view))
}

func convertCartView(v *cartservice.CartView) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(v.Cart.Items))
	for _, item := range v.Cart.Items {
		line := pricing.LineTotal(pricing.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice})
		items = append(items, CartItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			LineTotal:   line.StringFixed(2),
		})
	}

	adjustments := v.Adjustments
	if adjustments == nil {
		adjustments = []cartservice.StockAdjustment{}
	}

	return CartResponseDTO{
		Owner:        v.Cart.Owner,
		Items:        items,
		TotalItems:   v.Totals.TotalItems,
		Subtotal:     v.Totals.Subtotal.StringFixed(2),
		Tax:          v.Totals.Tax.StringFixed(2),
		Total:        v.Totals.Total.StringFixed(2),
		Currency:     domain.Currency,
		StockLimited: v.StockLimited(),
		Adjustments:  adjustments,
	}
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

// decodeRequest reads a JSON body into dst and validates it. On failure the
// error response has already been written.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
