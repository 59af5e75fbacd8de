package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanEntry is one line of an income source's saved allocation rule:
// credit this envelope by this amount, in the source's own per-occurrence
// units. Order is preserved from the user's setup.
type PlanEntry struct {
	EnvelopeID int64
	Amount     decimal.Decimal
}

// IncomeSource is a recurring income stream. Amount is the typical pay
// per occurrence; Plan is the saved distribution executed when a matching
// transaction arrives. Sources with historical postings are deactivated
// rather than deleted.
type IncomeSource struct {
	ID        int64
	UserID    string
	Name      string
	Amount    decimal.Decimal
	Frequency Frequency
	Active    bool
	NextDate  time.Time // zero when unknown
	Plan      []PlanEntry
	CreatedAt time.Time
}

func (s IncomeSource) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if !s.Amount.IsPositive() {
		return fmt.Errorf("%w: typical amount must be positive", ErrInvalidAmount)
	}
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFrequency, string(s.Frequency))
	}
	for _, entry := range s.Plan {
		if entry.Amount.IsNegative() {
			return fmt.Errorf("%w: negative plan amount for envelope %d", ErrInvalidAmount, entry.EnvelopeID)
		}
	}
	return nil
}

// PerCycle returns the source's typical amount normalized onto the user's
// pay cycle.
func (s IncomeSource) PerCycle(payCycle Frequency) (decimal.Decimal, error) {
	return Normalize(s.Amount, s.Frequency, payCycle)
}

// PlanTotal sums the allocation rule in per-occurrence units.
func (s IncomeSource) PlanTotal() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range s.Plan {
		total = total.Add(entry.Amount)
	}
	return total
}
