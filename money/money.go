// Package money keeps all order arithmetic in integer cents. Decimal values
// exist only at the external boundary, where seller-facing prices are parsed
// and rendered.
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Cents is a non-negative amount of money in cents.
type Cents int64

// Decimal returns the amount as a decimal number of currency units,
// e.g. Cents(2165) -> 21.65.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String renders the amount with two decimal places.
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// FromDecimalString parses a seller-supplied decimal price ("10.00") into
// cents. Fractions finer than a cent are rejected rather than rounded.
func FromDecimalString(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid price %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative price %q", s)
	}
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("price %q has sub-cent precision", s)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %q out of range", s)
	}
	return Cents(shifted.IntPart()), nil
}

// MulQty multiplies a unit price by a line quantity, guarding overflow.
func MulQty(unit Cents, qty int64) (Cents, error) {
	if qty < 0 || unit < 0 {
		return 0, fmt.Errorf("negative operand: unit=%d qty=%d", unit, qty)
	}
	if qty != 0 && int64(unit) > math.MaxInt64/qty {
		return 0, fmt.Errorf("amount overflow: unit=%d qty=%d", unit, qty)
	}
	return unit * Cents(qty), nil
}

// Add sums two amounts, guarding overflow.
func Add(a, b Cents) (Cents, error) {
	if int64(a) > math.MaxInt64-int64(b) {
		return 0, fmt.Errorf("amount overflow: %d + %d", a, b)
	}
	return a + b, nil
}

// Tax computes subtotal * rate, with the rate in basis points, rounding half
// up to the nearest cent. Tax(2000, 825) = 165.
func Tax(subtotal Cents, basisPoints int64) (Cents, error) {
	if basisPoints < 0 {
		return 0, fmt.Errorf("negative tax rate: %d bps", basisPoints)
	}
	if basisPoints != 0 && int64(subtotal) > math.MaxInt64/basisPoints {
		return 0, fmt.Errorf("tax overflow: subtotal=%d bps=%d", subtotal, basisPoints)
	}
	raw := int64(subtotal) * basisPoints
	return Cents((raw + 5000) / 10000), nil
}
