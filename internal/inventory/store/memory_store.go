package store

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_bakery/internal/domain"
	"github.com/google/uuid"
)

// productStock guards the counters of a single product.
type productStock struct {
	mu   sync.Mutex
	info domain.StockInfo
}

// heldReservation is an active reservation plus its slot in the expiry queue.
type heldReservation struct {
	domain.Reservation
	index int
}

// expiryQueue is a min-heap of active reservations ordered by ExpiresAt.
type expiryQueue []*heldReservation

func (q expiryQueue) Len() int { return len(q) }

func (q expiryQueue) Less(i, j int) bool { return q[i].ExpiresAt.Before(q[j].ExpiresAt) }

func (q expiryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *expiryQueue) Push(x any) {
	r := x.(*heldReservation)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*q = old[:n-1]
	return r
}

// MemoryStore implements InventoryStore with in-memory storage. Reservations
// against the same product serialize on that product's mutex; the reservation
// index has its own mutex and the two are never held together.
//
// Only active reservations are indexed. Released, committed and expired ones
// are dropped, so a settled id behaves like an unknown one.
type MemoryStore struct {
	stocksMu sync.RWMutex
	stocks   map[int64]*productStock // productID -> stock

	resMu        sync.Mutex
	reservations map[string]*heldReservation // reservationID -> active reservation
	expiries     expiryQueue

	ttl time.Duration
	now func() time.Time
}

// NewMemoryStore creates a new in-memory inventory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		stocks:       make(map[int64]*productStock),
		reservations: make(map[string]*heldReservation),
		ttl:          o.ttl,
		now:          o.now,
	}
}

func (s *MemoryStore) product(productID int64) (*productStock, bool) {
	s.stocksMu.RLock()
	defer s.stocksMu.RUnlock()
	p, ok := s.stocks[productID]
	return p, ok
}

// GetStock returns stock information for the given product IDs
func (s *MemoryStore) GetStock(_ context.Context, productIDs []int64) ([]domain.StockInfo, error) {
	result := make([]domain.StockInfo, 0, len(productIDs))
	for _, id := range productIDs {
		p, ok := s.product(id)
		if !ok {
			continue
		}
		p.mu.Lock()
		result = append(result, p.info)
		p.mu.Unlock()
	}
	return result, nil
}

func (s *MemoryStore) Available(_ context.Context, productID int64) (int32, error) {
	p, ok := s.product(productID)
	if !ok {
		return 0, ErrProductNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.Available(), nil
}

// Reserve holds quantity of one product for a checkout
func (s *MemoryStore) Reserve(_ context.Context, productID int64, quantity int32) (*domain.Reservation, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	p, ok := s.product(productID)
	if !ok {
		return nil, ErrProductNotFound
	}

	p.mu.Lock()
	if available := p.info.Available(); available < quantity {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: product %d requested %d, available %d",
			ErrInsufficientStock, productID, quantity, available)
	}
	p.info.Reserved += quantity
	p.mu.Unlock()

	now := s.now()
	held := &heldReservation{Reservation: domain.Reservation{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		Status:    domain.StatusReserved,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}}

	s.resMu.Lock()
	s.reservations[held.ID] = held
	heap.Push(&s.expiries, held)
	s.resMu.Unlock()

	copied := held.Reservation
	return &copied, nil
}

// Release cancels a reservation, returning stock to the available pool
func (s *MemoryStore) Release(_ context.Context, reservationID string) error {
	s.resMu.Lock()
	reservation, exists := s.reservations[reservationID]
	if !exists {
		s.resMu.Unlock()
		return nil
	}
	s.forget(reservation)
	productID, quantity := reservation.ProductID, reservation.Quantity
	s.resMu.Unlock()

	s.returnReserved(productID, quantity)
	return nil
}

// Commit finalizes reservations, permanently deducting stock
func (s *MemoryStore) Commit(_ context.Context, reservationIDs ...string) error {
	now := s.now()

	s.resMu.Lock()
	claimed := make([]*heldReservation, 0, len(reservationIDs))
	seen := make(map[string]struct{}, len(reservationIDs))
	for _, id := range reservationIDs {
		reservation, exists := s.reservations[id]
		if _, dup := seen[id]; dup || !exists {
			s.resMu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
		}
		if reservation.IsExpiredAt(now) {
			s.resMu.Unlock()
			return fmt.Errorf("%w: %s", ErrReservationExpired, id)
		}
		seen[id] = struct{}{}
		claimed = append(claimed, reservation)
	}
	for _, reservation := range claimed {
		s.forget(reservation)
	}
	s.resMu.Unlock()

	// Deduct from total stock (reserved already holds the quantity)
	for _, reservation := range claimed {
		p, ok := s.product(reservation.ProductID)
		if !ok {
			continue
		}
		p.mu.Lock()
		p.info.Total -= reservation.Quantity
		p.info.Reserved -= reservation.Quantity
		p.info.Committed += reservation.Quantity
		p.mu.Unlock()
	}
	return nil
}

// ExpireReservations pops reservations past their TTL off the expiry queue;
// it only visits the ones that are due.
func (s *MemoryStore) ExpireReservations(_ context.Context, now time.Time) (int, error) {
	s.resMu.Lock()
	var expired []*heldReservation
	for len(s.expiries) > 0 && s.expiries[0].IsExpiredAt(now) {
		reservation := heap.Pop(&s.expiries).(*heldReservation)
		delete(s.reservations, reservation.ID)
		expired = append(expired, reservation)
	}
	s.resMu.Unlock()

	for _, reservation := range expired {
		s.returnReserved(reservation.ProductID, reservation.Quantity)
	}
	return len(expired), nil
}

// SetStock sets the stock level for a product. Active reservations keep
// holding their quantity.
func (s *MemoryStore) SetStock(_ context.Context, productID int64, quantity int32) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	s.stocksMu.Lock()
	p, ok := s.stocks[productID]
	if !ok {
		p = &productStock{info: domain.StockInfo{ProductID: productID}}
		s.stocks[productID] = p
	}
	s.stocksMu.Unlock()

	p.mu.Lock()
	p.info.Total = quantity
	p.mu.Unlock()
	return nil
}

// Reservation returns a copy of an active reservation, mostly for inspection.
func (s *MemoryStore) Reservation(reservationID string) (domain.Reservation, bool) {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	reservation, ok := s.reservations[reservationID]
	if !ok {
		return domain.Reservation{}, false
	}
	return reservation.Reservation, true
}

// ActiveReservations reports how many reservations are currently held.
func (s *MemoryStore) ActiveReservations() int {
	s.resMu.Lock()
	defer s.resMu.Unlock()
	return len(s.reservations)
}

// forget drops a settled reservation from the index. Caller holds resMu.
func (s *MemoryStore) forget(reservation *heldReservation) {
	delete(s.reservations, reservation.ID)
	if reservation.index >= 0 {
		heap.Remove(&s.expiries, reservation.index)
	}
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) returnReserved(productID int64, quantity int32) {
	p, ok := s.product(productID)
	if !ok {
		return
	}
	p.mu.Lock()
	p.info.Reserved -= quantity
	p.mu.Unlock()
}
