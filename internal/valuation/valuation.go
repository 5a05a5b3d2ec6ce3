// Package valuation provides exact decimal arithmetic for money and quantity
// fields. Money values carry two decimal places (half-up), share quantities
// four, matching the NUMERIC(16,2) / NUMERIC(14,4) columns they round-trip
// through.
package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MoneyPlaces is the scale of all currency amounts
	MoneyPlaces = 2
	// QuantityPlaces is the scale of all share quantities
	QuantityPlaces = 4
)

// Tolerance is the maximum acceptable absolute difference when cross-checking
// derived currency amounts (one cent).
var Tolerance = decimal.New(1, -2)

// Money rounds a decimal to currency precision, half-up.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Quantity rounds a decimal to share-quantity precision.
func Quantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// MoneyFromFloat converts a float via its string form to avoid binary
// representation artifacts (1.1 -> 1.1000000000000001).
func MoneyFromFloat(f float64) decimal.Decimal {
	return Money(decimal.NewFromFloat(f))
}

// Parse converts a stored numeric string into a decimal.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse numeric %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for trusted literals in tests and seeds.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// WithinTolerance reports whether two currency amounts agree within Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(Tolerance) <= 0
}

// SafeDivide returns a/b, or zero when b is zero. Used for average-price
// computation over possibly-empty positions.
func SafeDivide(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
