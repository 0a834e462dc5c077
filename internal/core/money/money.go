// Package money converts between 2-place currency amounts and integer cents.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotNumeric = errors.New("amount is not numeric")
	ErrOutOfRange = errors.New("amount is out of range")
)

// MaxCents is the largest amount the engine accepts, 99999999.99.
const MaxCents int64 = 9_999_999_999

var (
	hundred   = decimal.NewFromInt(100)
	maxCents  = decimal.NewFromInt(MaxCents)
	MaxAmount = decimal.New(MaxCents, -2)
)

// Parse reads a decimal amount as sent on the wire.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, ErrNotNumeric
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrNotNumeric
	}
	return d, nil
}

// ToCents truncates to whole cents, so 10.009 becomes 1000.
func ToCents(d decimal.Decimal) (int64, error) {
	return bounded(d.Mul(hundred).Truncate(0))
}

// RoundCents rounds half away from zero, matching "%.2f" formatting of a
// reported amount.
func RoundCents(d decimal.Decimal) (int64, error) {
	return bounded(d.Round(2).Mul(hundred))
}

// bounded refuses anything past MaxCents before IntPart can wrap it.
func bounded(cents decimal.Decimal) (int64, error) {
	if cents.Abs().GreaterThan(maxCents) {
		return 0, ErrOutOfRange
	}
	return cents.IntPart(), nil
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents as a 2-place string ("1000" -> "10.00").
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}
