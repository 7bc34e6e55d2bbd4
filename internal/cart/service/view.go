package service

import (
	"github.com/fjod/go_bakery/internal/domain"
	"github.com/fjod/go_bakery/internal/pricing"
)

type AdjustmentReason string

const (
	// ReasonStockLimited: the requested quantity exceeded availability and
	// was lowered to Granted.
	ReasonStockLimited AdjustmentReason = "stock_limited"
	// ReasonUnavailable: the product left the catalog or was deactivated and
	// its line was dropped.
	ReasonUnavailable AdjustmentReason = "unavailable"
	// ReasonLineLimit: the requested quantity exceeded MaxLineQuantity.
	ReasonLineLimit AdjustmentReason = "line_limit"
)

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity int32 = 999

type StockAdjustment struct {
	ProductID   int64            `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	Requested   int32            `json:"requested"`
	Granted     int32            `json:"granted"`
	Reason      AdjustmentReason `json:"reason"`
}

// CartView is a cart together with totals computed at read time.
type CartView struct {
	Cart        *domain.Cart      `json:"cart"`
	Totals      pricing.Totals    `json:"totals"`
	Adjustments []StockAdjustment `json:"adjustments,omitempty"`
}

func (v *CartView) StockLimited() bool {
	for _, a := range v.Adjustments {
		if a.Reason == ReasonStockLimited {
			return true
		}
	}
	return false
}

// Dropped returns the adjustments for lines removed because their product is
// no longer sold.
func (v *CartView) Dropped() []StockAdjustment {
	var dropped []StockAdjustment
	for _, a := range v.Adjustments {
		if a.Reason == ReasonUnavailable {
			dropped = append(dropped, a)
		}
	}
	return dropped
}
