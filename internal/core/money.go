package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the rounding tolerance for funded/shortfall comparisons:
// one cent.
var Epsilon = decimal.New(1, -2)

// RoundCurrency rounds to two decimal places, half up. All engine outputs
// pass through here exactly once; intermediate arithmetic stays at full
// precision.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ParseAmount parses a user-supplied amount string. Accepts a comma as
// the decimal separator. Negative amounts are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	return d, nil
}

// ValidateAmount rejects negative allocation amounts. Zero is allowed:
// writing zero clears a source's contribution to an envelope.
func ValidateAmount(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	return nil
}

// CentsToDecimal converts a stored integer cent value to a decimal amount.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DecimalToCents converts a decimal amount to integer cents for storage,
// rounding half up.
func DecimalToCents(d decimal.Decimal) int64 {
	return d.Round(2).Shift(2).IntPart()
}
