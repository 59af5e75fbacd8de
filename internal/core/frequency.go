// Package core holds the pure domain logic of the funding engine: pay
// cycles, currency amounts, envelopes, income sources and the allocation
// calculations that connect them. Nothing in this package touches storage
// or the network.
package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Frequency is a calendar recurrence used for income, bill due dates and
// the user's pay cycle.
type Frequency string

const (
	Weekly       Frequency = "weekly"
	Fortnightly  Frequency = "fortnightly"
	TwiceMonthly Frequency = "twice-monthly"
	Monthly      Frequency = "monthly"
	Quarterly    Frequency = "quarterly"
	Annual       Frequency = "annual"
)

// cyclesPerYear is a fixed lookup table, shared read-only across callers.
var cyclesPerYear = map[Frequency]int64{
	Weekly:       52,
	Fortnightly:  26,
	TwiceMonthly: 24,
	Monthly:      12,
	Quarterly:    4,
	Annual:       1,
}

// CyclesPerYear returns how many times the frequency occurs in a year.
func (f Frequency) CyclesPerYear() (int64, error) {
	n, ok := cyclesPerYear[f]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFrequency, string(f))
	}
	return n, nil
}

// Valid reports whether f is a recognized frequency.
func (f Frequency) Valid() bool {
	_, ok := cyclesPerYear[f]
	return ok
}

// ParseFrequency converts a raw string into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
	return f, nil
}

// ValidPayCycle reports whether f may serve as a user's canonical pay
// cycle. Quarterly and annual recurrences are valid for bills and income
// but too coarse to budget against.
func ValidPayCycle(f Frequency) bool {
	switch f {
	case Weekly, Fortnightly, TwiceMonthly, Monthly:
		return true
	}
	return false
}

// Normalize converts an amount per `from` occurrence into the equivalent
// amount per `to` occurrence. The division happens at full decimal
// precision; rounding to currency precision is applied once, on the result.
func Normalize(amount decimal.Decimal, from, to Frequency) (decimal.Decimal, error) {
	fc, err := from.CyclesPerYear()
	if err != nil {
		return decimal.Zero, err
	}
	tc, err := to.CyclesPerYear()
	if err != nil {
		return decimal.Zero, err
	}
	annual := amount.Mul(decimal.NewFromInt(fc))
	return RoundCurrency(annual.Div(decimal.NewFromInt(tc))), nil
}
