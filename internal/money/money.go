// Package money converts between decimal currency amounts and integer cents.
// All arithmetic inside the service is done in cents; decimals only appear at
// the edges (configuration, gateway payloads, API responses).
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCents parses a decimal amount such as "19.99" into cents.
// Amounts with sub-cent precision are rejected rather than rounded.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts an exact decimal amount into cents.
func FromDecimal(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %s has sub-cent precision", d.String())
	}
	return shifted.IntPart(), nil
}

// Format renders cents as a fixed two-digit decimal string.
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseRate parses a percentage such as "7.25".
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("rate %q must not be negative", s)
	}
	return d, nil
}
