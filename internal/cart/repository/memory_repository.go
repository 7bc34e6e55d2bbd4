package repository

import (
	"context"
	"sync"

	"github.com/fjod/go_bakery/internal/domain"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*domain.Cart)}
}

func (r *MemoryRepository) GetCart(_ context.Context, owner string) (*domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[owner]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r *MemoryRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.carts[cart.Owner]
	switch {
	case !ok && cart.Version != 0:
		return ErrConcurrentModification
	case ok && stored.Version != cart.Version:
		return ErrConcurrentModification
	}

	cart.Version++
	r.carts[cart.Owner] = cart.Clone()
	return nil
}

func (r *MemoryRepository) DeleteCart(_ context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[owner]; !ok {
		return ErrCartNotFound
	}
	delete(r.carts, owner)
	return nil
}
