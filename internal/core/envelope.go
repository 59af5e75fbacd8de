package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EnvelopeSubtype distinguishes what an envelope's target means.
type EnvelopeSubtype string

const (
	SubtypeBill     EnvelopeSubtype = "bill"     // target due per DueFrequency
	SubtypeSpending EnvelopeSubtype = "spending" // target already per pay cycle
	SubtypeSavings  EnvelopeSubtype = "savings"  // goal due per DueFrequency
	SubtypeTracking EnvelopeSubtype = "tracking" // mirrors an external balance
)

// Priority orders envelopes when funding falls short.
type Priority string

const (
	PriorityEssential     Priority = "essential"
	PriorityImportant     Priority = "important"
	PriorityDiscretionary Priority = "discretionary"
)

// Rank maps a priority to its sort position. Essential envelopes always
// come first in shortfall views; unknown values sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityEssential:
		return 0
	case PriorityImportant:
		return 1
	case PriorityDiscretionary:
		return 2
	}
	return 3
}

// Envelope is a named budget bucket with a funding target and a running
// balance. Allocations maps income source id to the amount that source
// contributes per pay cycle; it is written by the distributor, never by
// suggestion logic. Balance is mutated only by confirmed ledger postings.
type Envelope struct {
	ID           int64
	UserID       string
	Name         string
	Subtype      EnvelopeSubtype
	Target       decimal.Decimal
	DueFrequency Frequency // meaningful for bill and savings only
	Priority     Priority
	Allocations  map[int64]decimal.Decimal
	Balance      decimal.Decimal
	CreatedAt    time.Time
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	switch e.Subtype {
	case SubtypeBill, SubtypeSpending, SubtypeSavings, SubtypeTracking:
	default:
		return fmt.Errorf("invalid envelope subtype: %q", string(e.Subtype))
	}
	if e.Target.IsNegative() {
		return fmt.Errorf("%w: negative target", ErrInvalidAmount)
	}
	if (e.Subtype == SubtypeBill || e.Subtype == SubtypeSavings) && e.Target.IsPositive() && !e.DueFrequency.Valid() {
		return fmt.Errorf("%w: due frequency %q", ErrInvalidFrequency, string(e.DueFrequency))
	}
	for _, amt := range e.Allocations {
		if amt.IsNegative() {
			return fmt.Errorf("%w: negative allocation", ErrInvalidAmount)
		}
	}
	return nil
}

// AllocatedPerCycle sums the envelope's allocation map: the amount set
// aside for it each pay cycle across all income sources.
func (e Envelope) AllocatedPerCycle() decimal.Decimal {
	total := decimal.Zero
	for _, amt := range e.Allocations {
		total = total.Add(amt)
	}
	return total
}
