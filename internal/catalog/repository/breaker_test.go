package repository_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fjod/go_bakery/internal/catalog/repository"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyCatalog struct {
	repository.Catalog
	err   error
	calls int
}

func (f *flakyCatalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.Catalog.GetProduct(ctx, id)
}

func newBreaker(next repository.Catalog) *repository.BreakerCatalog {
	return repository.NewBreakerCatalog(next, repository.BreakerSettings{
		ConsecutiveFailures: 3,
		OpenTimeout:         time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBreakerCatalog_OpensOnFailures(t *testing.T) {
	flaky := &flakyCatalog{Catalog: repository.NewSeededMemoryRepository(), err: errors.New("connection refused")}
	cb := newBreaker(flaky)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := cb.GetProduct(ctx, 1)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.GetProduct(ctx, 1)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, flaky.calls)
}

func TestBreakerCatalog_NotFoundDoesNotTrip(t *testing.T) {
	cb := newBreaker(repository.NewSeededMemoryRepository())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := cb.GetProduct(ctx, 999)
		require.ErrorIs(t, err, repository.ErrProductNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	p, err := cb.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Sourdough Loaf", p.Name)
}

func TestBreakerCatalog_PassesThrough(t *testing.T) {
	cb := newBreaker(repository.NewSeededMemoryRepository())
	ctx := context.Background()

	products, err := cb.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 6)

	byID, err := cb.GetProducts(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Len(t, byID, 2)
	assert.NoError(t, cb.Close())
}
