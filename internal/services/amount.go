package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPrecision is the number of fractional digits every amount carries.
const CurrencyPrecision = 2

// maxAmount keeps amounts inside NUMERIC(20, 2).
var maxAmount = decimal.New(1, 18)

// ParseAmount parses a decimal string such as "100.00" into a validated amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	return NormalizeAmount(d)
}

// NormalizeAmount rejects non-positive, oversized or over-precise amounts and
// returns the value with exactly CurrencyPrecision fractional digits.
func NormalizeAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, d.String())
	}
	if !d.Equal(d.Truncate(CurrencyPrecision)) {
		return decimal.Zero, fmt.Errorf("%w: amount %s has more than %d fractional digits", ErrInvalidAmount, d.String(), CurrencyPrecision)
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, fmt.Errorf("%w: amount %s exceeds the supported range", ErrInvalidAmount, d.String())
	}
	return d.Truncate(CurrencyPrecision), nil
}

// FormatAmount renders an amount with the fixed currency precision.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(CurrencyPrecision)
}
