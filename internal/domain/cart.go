package domain

import (
	"errors"
	"time"

	"github.com/fjod/go_bakery/internal/pricing"
	"github.com/shopspring/decimal"
)

var ErrInvalidOwner = errors.New("cart owner must be exactly one of session or user")

// CartOwner identifies who a cart belongs to. Exactly one of SessionID and
// UserID is set.
type CartOwner struct {
	SessionID string
	UserID    string
}

func SessionOwner(sessionID string) CartOwner { return CartOwner{SessionID: sessionID} }

func UserOwner(userID string) CartOwner { return CartOwner{UserID: userID} }

func (o CartOwner) Validate() error {
	if (o.SessionID == "") == (o.UserID == "") {
		return ErrInvalidOwner
	}
	return nil
}

// Key is the storage key of the owner, e.g. "user:42" or "session:ab12".
func (o CartOwner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}

type Cart struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Items     []CartItem `json:"items"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is a line of the cart. UnitPrice is refreshed from the catalog on
// every reprice, it is not a historical price.
type CartItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AddedAt     time.Time       `json:"added_at"`
}

// Item returns the line for productID, or nil.
func (c *Cart) Item(productID int64) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// SetItemQuantity keeps the one-line-per-product rule: a positive quantity
// updates or appends the line, zero or less removes it.
func (c *Cart) SetItemQuantity(productID int64, quantity int32, now time.Time) {
	if quantity <= 0 {
		c.RemoveItem(productID)
		return
	}
	if item := c.Item(productID); item != nil {
		item.Quantity = quantity
		return
	}
	c.Items = append(c.Items, CartItem{
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   now,
	})
}

// RemoveItem reports whether a line was removed.
func (c *Cart) RemoveItem(productID int64) bool {
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) Lines() []pricing.Line {
	lines := make([]pricing.Line, len(c.Items))
	for i, item := range c.Items {
		lines[i] = pricing.Line{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	return lines
}

// Clone returns a deep copy; carts handed out by caches and repositories
// must not share their Items slice.
func (c *Cart) Clone() *Cart {
	clone := *c
	if c.Items != nil {
		clone.Items = make([]CartItem, len(c.Items))
		copy(clone.Items, c.Items)
	}
	return &clone
}
