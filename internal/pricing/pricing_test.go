package pricing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPrice_TwoLines(t *testing.T) {
	totals := DefaultPolicy().Price([]Line{
		{Quantity: 2, UnitPrice: price("5.00")},
		{Quantity: 1, UnitPrice: price("3.00")},
	})

	assert.True(t, price("13.00").Equal(totals.Subtotal), "subtotal %s", totals.Subtotal)
	assert.True(t, price("1.30").Equal(totals.Tax), "tax %s", totals.Tax)
	assert.True(t, price("14.30").Equal(totals.Total), "total %s", totals.Total)
	assert.Equal(t, int32(3), totals.TotalItems)
}

func TestPrice_Empty(t *testing.T) {
	totals := DefaultPolicy().Price(nil)

	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Tax.IsZero())
	assert.True(t, totals.Total.IsZero())
	assert.Equal(t, int32(0), totals.TotalItems)
}

func TestPrice_RoundsEachLineBeforeSumming(t *testing.T) {
	// 3 x 0.335 = 1.005 -> 1.01 per line, two lines -> 2.02.
	// Summing first would give 2.01.
	totals := DefaultPolicy().Price([]Line{
		{Quantity: 3, UnitPrice: price("0.335")},
		{Quantity: 3, UnitPrice: price("0.335")},
	})

	assert.True(t, price("2.02").Equal(totals.Subtotal), "subtotal %s", totals.Subtotal)
	assert.True(t, price("0.20").Equal(totals.Tax), "tax %s", totals.Tax)
}

func TestPrice_TaxRoundsHalfAwayFromZero(t *testing.T) {
	// 0.45 * 0.10 = 0.045 -> 0.05
	totals := DefaultPolicy().Price([]Line{{Quantity: 1, UnitPrice: price("0.45")}})

	assert.True(t, price("0.05").Equal(totals.Tax), "tax %s", totals.Tax)
	assert.True(t, price("0.50").Equal(totals.Total), "total %s", totals.Total)
}

func TestPrice_CustomRate(t *testing.T) {
	totals := NewPolicy(price("0.07")).Price([]Line{{Quantity: 4, UnitPrice: price("2.50")}})

	assert.True(t, price("10.00").Equal(totals.Subtotal))
	assert.True(t, price("0.70").Equal(totals.Tax))
	assert.True(t, price("10.70").Equal(totals.Total))
}

func TestPrice_TotalIsSubtotalPlusTax(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	policy := DefaultPolicy()

	for i := 0; i < 500; i++ {
		n := rng.Intn(8)
		lines := make([]Line, n)
		for j := range lines {
			lines[j] = Line{
				Quantity:  int32(rng.Intn(20) + 1),
				UnitPrice: decimal.New(int64(rng.Intn(100000)), -3),
			}
		}

		totals := policy.Price(lines)

		assert.True(t, totals.Total.Equal(totals.Subtotal.Add(totals.Tax)))
		assert.True(t, totals.Tax.Equal(totals.Subtotal.Mul(DefaultTaxRate).Round(2)))
		assert.True(t, totals.Subtotal.Equal(totals.Subtotal.Round(2)))
	}
}
