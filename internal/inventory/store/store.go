package store

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
)

const (
	// ReservationTTL is how long a reservation is valid before auto-expiring
	ReservationTTL = 15 * time.Minute
)

// Common errors returned by the store
var (
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrUnknownReservation = errors.New("unknown reservation")
	ErrReservationExpired = errors.New("reservation has expired")
	ErrInvalidQuantity    = errors.New("quantity must be greater than 0")
)

// InventoryStore is the stock ledger: the authoritative available quantity per
// product plus the set of active reservations held against it.
type InventoryStore interface {
	// GetStock returns stock information for the given product IDs.
	// Unknown products are skipped.
	GetStock(ctx context.Context, productIDs []int64) ([]domain.StockInfo, error)

	// Available returns total - reserved for one product
	Available(ctx context.Context, productID int64) (int32, error)

	// Reserve atomically checks availability and holds quantity for one product.
	// Fails with ErrInsufficientStock without side effects.
	Reserve(ctx context.Context, productID int64, quantity int32) (*domain.Reservation, error)

	// Release returns a reserved quantity to the pool. Releasing an unknown,
	// released, expired or committed reservation is a no-op.
	Release(ctx context.Context, reservationID string) error

	// Commit turns reservations into permanent stock decrements. Either every
	// reservation is committed or none is.
	Commit(ctx context.Context, reservationIDs ...string) error

	// ExpireReservations releases reservations whose lifetime ended at or
	// before now and returns how many were expired.
	ExpireReservations(ctx context.Context, now time.Time) (int, error)

	// SetStock sets the stock level for a product (used for initialization)
	SetStock(ctx context.Context, productID int64, quantity int32) error

	Close() error
}

type options struct {
	ttl time.Duration
	now func() time.Time
}

type Option func(*options)

// WithReservationTTL overrides ReservationTTL.
func WithReservationTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{ttl: ReservationTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
