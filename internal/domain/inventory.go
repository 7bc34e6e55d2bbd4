package domain

import "time"

// ReservationStatus represents the state of a stock reservation
type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// Reservation holds stock quantity for a single product until it is committed,
// released or swept after ExpiresAt.
type Reservation struct {
	ID        string
	ProductID int64
	Quantity  int32
	Status    ReservationStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpiredAt reports whether the reservation lifetime has elapsed at t
func (r *Reservation) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// StockInfo contains stock information for a product
type StockInfo struct {
	ProductID int64
	Total     int32 // current stock quantity, already reduced by commits
	Reserved  int32 // held by active reservations
	Committed int32 // permanently decremented since seeding
}

// Available returns the available stock (total - reserved)
func (s StockInfo) Available() int32 {
	return s.Total - s.Reserved
}
