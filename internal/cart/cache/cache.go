package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_bakery/internal/domain"
)

// CartCache is keyed by owner key.
type CartCache interface {
	Get(ctx context.Context, owner string) (*domain.Cart, error)
	Set(ctx context.Context, owner string, cart *domain.Cart) error
	Delete(ctx context.Context, owner string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache always misses.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, *domain.Cart) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
