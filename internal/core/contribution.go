package core

import "github.com/shopspring/decimal"

// IdealPerCycle returns the amount that must be set aside each pay cycle
// to meet the envelope's target by its due date.
//
// A zero target means "no target set" and yields zero for every subtype.
// Spending envelopes define their target per the user's own cycle, so the
// target passes through unchanged. Tracking envelopes mirror external
// balances and never require funding.
func IdealPerCycle(e Envelope, payCycle Frequency) (decimal.Decimal, error) {
	if e.Target.IsZero() {
		return decimal.Zero, nil
	}
	switch e.Subtype {
	case SubtypeTracking:
		return decimal.Zero, nil
	case SubtypeSpending:
		return RoundCurrency(e.Target), nil
	default: // bill, savings
		return Normalize(e.Target, e.DueFrequency, payCycle)
	}
}
