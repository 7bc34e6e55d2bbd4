package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_bakery/internal/domain"
)

var (
	ErrCartNotFound           = errors.New("cart not found")
	ErrConcurrentModification = errors.New("cart was modified concurrently")
)

// CartRepository stores carts keyed by owner key.
//
// SaveCart is a compare-and-set on Version: a cart with Version 0 is
// inserted, otherwise the stored version must still equal cart.Version. On
// success cart.Version is advanced.
type CartRepository interface {
	GetCart(ctx context.Context, owner string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, owner string) error
}
