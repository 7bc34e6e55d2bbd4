package service

import (
	"errors"
	"fmt"
	"strings"

	cartservice "github.com/fjod/go_bakery/internal/cart/service"
)

var (
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrStockUnavailable = errors.New("not enough stock to fulfil the cart")
	ErrInvalidStatus    = errors.New("unknown order status")
	ErrCartChanged      = errors.New("cart lines were dropped since it was last shown")
)

// StockUnavailableError names the line that could not be reserved.
type StockUnavailableError struct {
	ProductID   int64
	ProductName string
	Requested   int32
	Available   int32
}

func (e *StockUnavailableError) Error() string {
	return fmt.Sprintf("not enough stock for %q (product %d): requested %d, available %d",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func (e *StockUnavailableError) Unwrap() error {
	return ErrStockUnavailable
}

// ProductsUnavailableError lists the lines a checkout dropped because their
// products are no longer sold. The cart is saved without them.
type ProductsUnavailableError struct {
	Lines []cartservice.StockAdjustment
}

func (e *ProductsUnavailableError) Error() string {
	names := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		names[i] = fmt.Sprintf("%q (product %d)", l.ProductName, l.ProductID)
	}
	return "no longer available: " + strings.Join(names, ", ")
}

func (e *ProductsUnavailableError) Unwrap() error {
	return ErrCartChanged
}

// errReplay aborts a cart checkout that turned out to repeat an earlier one,
// so the current cart is left in place.
var errReplay = errors.New("checkout replayed")
