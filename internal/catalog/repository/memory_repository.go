package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/shopspring/decimal"
)

type MemoryRepository struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
}

func NewMemoryRepository(products ...domain.Product) *MemoryRepository {
	r := &MemoryRepository{products: make(map[int64]domain.Product, len(products))}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

// NewSeededMemoryRepository carries the same assortment as the sqlite
// seed migration.
func NewSeededMemoryRepository() *MemoryRepository {
	return NewMemoryRepository(SeedProducts()...)
}

func SeedProducts() []domain.Product {
	created := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	return []domain.Product{
		{ID: 1, Name: "Sourdough Loaf", Description: "Naturally leavened country loaf", Price: decimal.RequireFromString("6.50"), StockQuantity: 40, IsActive: true, ImageURL: "/images/sourdough.jpg", CreatedAt: created},
		{ID: 2, Name: "Butter Croissant", Description: "Laminated French butter croissant", Price: decimal.RequireFromString("3.25"), StockQuantity: 120, IsActive: true, ImageURL: "/images/croissant.jpg", CreatedAt: created},
		{ID: 3, Name: "Cinnamon Roll", Description: "Brown sugar swirl with cream cheese glaze", Price: decimal.RequireFromString("4.00"), StockQuantity: 60, IsActive: true, ImageURL: "/images/cinnamon-roll.jpg", CreatedAt: created},
		{ID: 4, Name: "Baguette", Description: "Crisp crust, open crumb", Price: decimal.RequireFromString("3.75"), StockQuantity: 80, IsActive: true, ImageURL: "/images/baguette.jpg", CreatedAt: created},
		{ID: 5, Name: "Chocolate Cake", Description: "Whole dark chocolate layer cake", Price: decimal.RequireFromString("32.00"), StockQuantity: 5, IsActive: true, ImageURL: "/images/chocolate-cake.jpg", CreatedAt: created},
		{ID: 6, Name: "Pumpkin Pie", Description: "Seasonal, back in autumn", Price: decimal.RequireFromString("18.00"), StockQuantity: 0, IsActive: false, ImageURL: "/images/pumpkin-pie.jpg", CreatedAt: created},
	}
}

func (r *MemoryRepository) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProducts(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			result[id] = &p
		}
	}
	return result, nil
}

func (r *MemoryRepository) ListProducts(_ context.Context) ([]*domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	products := make([]*domain.Product, 0, len(r.products))
	for _, p := range r.products {
		p := p
		products = append(products, &p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
	return products, nil
}

// Upsert replaces a product. The catalog is external to the storefront;
// this exists for tests and local seeding.
func (r *MemoryRepository) Upsert(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *MemoryRepository) Delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.products, id)
}

func (r *MemoryRepository) Close() error {
	return nil
}
