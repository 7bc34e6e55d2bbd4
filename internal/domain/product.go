package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is owned by the catalog; the core only reads it.
type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	StockQuantity int32
	IsActive      bool
	ImageURL      string
	CreatedAt     time.Time
}
