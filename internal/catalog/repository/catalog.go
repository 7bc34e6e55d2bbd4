package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_bakery/internal/domain"
)

var ErrProductNotFound = errors.New("product not found")

// Catalog is the read-only product lookup the storefront consumes.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	// GetProducts returns the products that exist; missing ids are absent
	// from the map rather than an error.
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	Close() error
}
