package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

var DefaultBreakerSettings = BreakerSettings{
	ConsecutiveFailures: 5,
	OpenTimeout:         10 * time.Second,
}

// BreakerCatalog fails fast with gobreaker.ErrOpenState while the wrapped
// catalog keeps erroring. A missing product is an answer, not a failure.
type BreakerCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerCatalog(next Catalog, settings BreakerSettings, log *slog.Logger) *BreakerCatalog {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrProductNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerCatalog{next: next, cb: cb}
}

func (b *BreakerCatalog) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerCatalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return res.(*domain.Product), nil
}

func (b *BreakerCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.GetProducts(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[int64]*domain.Product), nil
}

func (b *BreakerCatalog) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return b.next.ListProducts(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*domain.Product), nil
}

func (b *BreakerCatalog) Close() error {
	return b.next.Close()
}
