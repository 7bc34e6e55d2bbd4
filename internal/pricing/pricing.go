// Package pricing turns line items into monetary totals. It is shared by the
// cart and the order lifecycle so both always agree on the figures.
package pricing

import "github.com/shopspring/decimal"

// DefaultTaxRate is the flat storefront tax rate (10%).
var DefaultTaxRate = decimal.RequireFromString("0.10")

const centsPlaces = 2

type Line struct {
	Quantity  int32
	UnitPrice decimal.Decimal
}

type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
	TotalItems int32           `json:"total_items"`
}

type Policy struct {
	TaxRate decimal.Decimal
}

func NewPolicy(taxRate decimal.Decimal) Policy {
	return Policy{TaxRate: taxRate}
}

func DefaultPolicy() Policy {
	return NewPolicy(DefaultTaxRate)
}

// LineTotal is quantity x unit price rounded to cents.
func LineTotal(l Line) decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)).Round(centsPlaces)
}

// Price rounds every line to cents before summing, then derives tax from the
// rounded subtotal. Total is always exactly Subtotal + Tax.
func (p Policy) Price(lines []Line) Totals {
	subtotal := decimal.Zero
	var items int32
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l))
		items += l.Quantity
	}
	tax := subtotal.Mul(p.TaxRate).Round(centsPlaces)
	return Totals{
		Subtotal:   subtotal,
		Tax:        tax,
		Total:      subtotal.Add(tax),
		TotalItems: items,
	}
}
