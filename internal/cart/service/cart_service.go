package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fjod/go_bakery/internal/cart/cache"
	"github.com/fjod/go_bakery/internal/cart/repository"
	catalog "github.com/fjod/go_bakery/internal/catalog/repository"
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/inventory/store"
	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/fjod/go_bakery/pkg/keylock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// maxSaveAttempts bounds the optimistic retry loop when another instance
// saves the same cart between our read and write.
const maxSaveAttempts = 3

// loadTimeout bounds a shared cart load; the load outlives any single
// caller's cancellation.
const loadTimeout = 5 * time.Second

var ErrProductNotFound = errors.New("product not found or unavailable")

// ProductLookup is the part of the catalog the cart needs.
type ProductLookup interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
}

// StockChecker reports ledger availability without reserving anything.
type StockChecker interface {
	Available(ctx context.Context, productID int64) (int32, error)
}

type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog ProductLookup
	stock   StockChecker
	policy  pricing.Policy
	locks   *keylock.Locker
	sfg     singleflight.Group // collapses concurrent cache misses
	log     *slog.Logger
	now     func() time.Time
}

func NewCartService(
	repo repository.CartRepository,
	cartCache cache.CartCache,
	products ProductLookup,
	stock StockChecker,
	policy pricing.Policy,
	log *slog.Logger,
) *CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	return &CartService{
		repo:    repo,
		cache:   cartCache,
		catalog: products,
		stock:   stock,
		policy:  policy,
		locks:   keylock.New(),
		log:     log,
		now:     time.Now,
	}
}

// GetCart returns the owner's cart repriced against the current catalog.
// A missing cart is returned as an empty one and is not persisted.
func (s *CartService) GetCart(ctx context.Context, owner domain.CartOwner) (*CartView, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	key := owner.Key()
	detached := context.WithoutCancel(ctx)

	ch := s.sfg.DoChan(key, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(detached, loadTimeout)
		defer cancel()

		unlock := s.locks.Lock(key)
		defer unlock()

		cart, err := s.cache.Get(ctx, key)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cart cache get failed", "owner", key, "err", err)
		}

		cart, err = s.repo.GetCart(ctx, key)
		if errors.Is(err, repository.ErrCartNotFound) {
			return s.emptyCart(key), nil
		}
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, key, cart); err != nil {
			s.log.Warn("cart cache set failed", "owner", key, "err", err)
		}
		return cart, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// singleflight callers share the cart; reprice a private copy
	cart := res.Val.(*domain.Cart).Clone()
	adjustments, err := s.reprice(ctx, cart)
	if err != nil {
		return nil, err
	}
	return s.view(cart, adjustments), nil
}

// AddItem changes the quantity of a line by delta. The resulting quantity is
// floored at zero (which removes the line), capped at MaxLineQuantity and at
// the ledger's current availability; a cap is reported as an adjustment.
func (s *CartService) AddItem(ctx context.Context, owner domain.CartOwner, productID int64, delta int32) (*CartView, error) {
	return s.mutate(ctx, owner, func(cart *domain.Cart) ([]StockAdjustment, error) {
		current := int64(0)
		if item := cart.Item(productID); item != nil {
			current = int64(item.Quantity)
		}
		return s.setQuantity(ctx, cart, productID, clampInt32(current+int64(delta)))
	})
}

// SetQuantity sets an absolute quantity with the same clamping as AddItem.
func (s *CartService) SetQuantity(ctx context.Context, owner domain.CartOwner, productID int64, quantity int32) (*CartView, error) {
	return s.mutate(ctx, owner, func(cart *domain.Cart) ([]StockAdjustment, error) {
		return s.setQuantity(ctx, cart, productID, quantity)
	})
}

// RemoveItem is a no-op for lines that are not in the cart.
func (s *CartService) RemoveItem(ctx context.Context, owner domain.CartOwner, productID int64) (*CartView, error) {
	return s.mutate(ctx, owner, func(cart *domain.Cart) ([]StockAdjustment, error) {
		cart.RemoveItem(productID)
		return nil, nil
	})
}

// Clear deletes the cart. Clearing an absent cart succeeds.
func (s *CartService) Clear(ctx context.Context, owner domain.CartOwner) (*CartView, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	key := owner.Key()

	unlock := s.locks.Lock(key)
	defer unlock()

	if err := s.deleteCart(ctx, key); err != nil {
		return nil, err
	}
	return s.view(s.emptyCart(key), nil), nil
}

// Reprice refreshes unit prices and names from the catalog and persists the
// result, dropping lines whose product is gone or inactive.
func (s *CartService) Reprice(ctx context.Context, owner domain.CartOwner) (*CartView, error) {
	return s.mutate(ctx, owner, func(*domain.Cart) ([]StockAdjustment, error) {
		return nil, nil
	})
}

// CheckoutFunc turns a repriced cart into an order. The cart stays locked
// while it runs.
type CheckoutFunc func(ctx context.Context, view *CartView) error

// CheckoutCart reprices the cart under its lock and hands it to fn. The cart
// is deleted only when fn succeeds.
func (s *CartService) CheckoutCart(ctx context.Context, owner domain.CartOwner, fn CheckoutFunc) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	key := owner.Key()

	unlock := s.locks.Lock(key)
	defer unlock()

	cart, stored, err := s.loadCart(ctx, key)
	if err != nil {
		return err
	}
	adjustments, err := s.reprice(ctx, cart)
	if err != nil {
		return err
	}

	if err := fn(ctx, s.view(cart, adjustments)); err != nil {
		if stored && len(adjustments) > 0 {
			// keep the dropped lines out of the stored cart
			if saveErr := s.save(ctx, cart); saveErr != nil {
				s.log.Warn("saving repriced cart failed", "owner", key, "err", saveErr)
			}
		}
		return err
	}

	if stored {
		if err := s.deleteCart(ctx, key); err != nil {
			// the order exists; a leftover cart is only stale data
			s.log.Error("clearing checked out cart failed", "owner", key, "cart_id", cart.ID, "err", err)
		}
	}
	return nil
}

type mutation func(cart *domain.Cart) ([]StockAdjustment, error)

func (s *CartService) mutate(ctx context.Context, owner domain.CartOwner, fn mutation) (*CartView, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	key := owner.Key()

	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 1; ; attempt++ {
		view, err := s.tryMutate(ctx, key, fn)
		if errors.Is(err, repository.ErrConcurrentModification) && attempt < maxSaveAttempts {
			s.log.Debug("cart version conflict, retrying", "owner", key, "attempt", attempt)
			continue
		}
		return view, err
	}
}

func (s *CartService) tryMutate(ctx context.Context, key string, fn mutation) (*CartView, error) {
	cart, stored, err := s.loadCart(ctx, key)
	if err != nil {
		return nil, err
	}

	adjustments, err := fn(cart)
	if err != nil {
		return nil, err
	}
	repriced, err := s.reprice(ctx, cart)
	if err != nil {
		return nil, err
	}
	adjustments = append(adjustments, repriced...)

	switch {
	case cart.IsEmpty() && stored:
		if err := s.deleteCart(ctx, key); err != nil {
			return nil, err
		}
		cart = s.emptyCart(key)
	case cart.IsEmpty():
		// nothing to persist
	default:
		if err := s.save(ctx, cart); err != nil {
			return nil, err
		}
	}
	return s.view(cart, adjustments), nil
}

// loadCart reads the authoritative copy, bypassing the cache. stored reports
// whether the cart exists in the repository.
func (s *CartService) loadCart(ctx context.Context, key string) (cart *domain.Cart, stored bool, err error) {
	cart, err = s.repo.GetCart(ctx, key)
	if errors.Is(err, repository.ErrCartNotFound) {
		return s.emptyCart(key), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cart: %w", err)
	}
	return cart, true, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	cart.UpdatedAt = s.now()
	if err := s.repo.SaveCart(ctx, cart); err != nil {
		if errors.Is(err, repository.ErrConcurrentModification) {
			return err
		}
		return fmt.Errorf("save cart: %w", err)
	}
	s.invalidateCache(cart.Owner)
	return nil
}

func (s *CartService) deleteCart(ctx context.Context, key string) error {
	if err := s.repo.DeleteCart(ctx, key); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return fmt.Errorf("delete cart: %w", err)
	}
	s.invalidateCache(key)
	return nil
}

func (s *CartService) invalidateCache(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("cart cache invalidate failed", "owner", key, "err", err)
	}
}

func (s *CartService) setQuantity(ctx context.Context, cart *domain.Cart, productID int64, quantity int32) ([]StockAdjustment, error) {
	if quantity <= 0 {
		cart.RemoveItem(productID)
		return nil, nil
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrProductNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup product %d: %w", productID, err)
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}

	available, err := s.stock.Available(ctx, productID)
	if errors.Is(err, store.ErrProductNotFound) {
		available = 0
	} else if err != nil {
		return nil, fmt.Errorf("check stock of product %d: %w", productID, err)
	}

	var adjustments []StockAdjustment
	granted, reason := min(quantity, MaxLineQuantity), ReasonLineLimit
	if granted > available {
		granted, reason = max(available, 0), ReasonStockLimited
	}
	if granted < quantity {
		adjustments = append(adjustments, StockAdjustment{
			ProductID:   productID,
			ProductName: product.Name,
			Requested:   quantity,
			Granted:     granted,
			Reason:      reason,
		})
	}

	cart.SetItemQuantity(productID, granted, s.now())
	if item := cart.Item(productID); item != nil {
		item.ProductName = product.Name
		item.UnitPrice = product.Price
	}
	return adjustments, nil
}

func (s *CartService) reprice(ctx context.Context, cart *domain.Cart) ([]StockAdjustment, error) {
	if cart.IsEmpty() {
		return nil, nil
	}

	ids := make([]int64, len(cart.Items))
	for i, item := range cart.Items {
		ids[i] = item.ProductID
	}
	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reprice cart: %w", err)
	}

	var adjustments []StockAdjustment
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok || !product.IsActive {
			adjustments = append(adjustments, StockAdjustment{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Reason:      ReasonUnavailable,
			})
			continue
		}
		item.ProductName = product.Name
		item.UnitPrice = product.Price
		kept = append(kept, item)
	}
	cart.Items = kept
	return adjustments, nil
}

func (s *CartService) emptyCart(key string) *domain.Cart {
	now := s.now()
	return &domain.Cart{
		ID:        uuid.NewString(),
		Owner:     key,
		Items:     []domain.CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *CartService) view(cart *domain.Cart, adjustments []StockAdjustment) *CartView {
	return &CartView{
		Cart:        cart,
		Totals:      s.policy.Price(cart.Lines()),
		Adjustments: adjustments,
	}
}

func clampInt32(v int64) int32 {
	switch {
	case v < 0:
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}
