package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionState tracks an income transaction through the allocator.
// Terminal states are allocated, not_income and needs_review; a terminal
// transaction is never reprocessed.
type TransactionState string

const (
	TxUnprocessed    TransactionState = "unprocessed"
	TxIncomeDetected TransactionState = "income_detected"
	TxAllocated      TransactionState = "allocated"
	TxNotIncome      TransactionState = "not_income"
	TxNeedsReview    TransactionState = "needs_review"
)

// Transaction is an incoming bank transaction as handed over by the host
// application. Only positive-amount transactions can be income.
type Transaction struct {
	ID              int64
	UserID          string
	Amount          decimal.Decimal
	Description     string
	OccurredAt      time.Time
	State           TransactionState
	MatchedSourceID int64 // 0 until a source is matched
}

// AllocationPosting is the immutable ledger record crediting an envelope
// from a processed income transaction. Reversal happens through an
// explicit compensating posting, never by mutating an existing row.
type AllocationPosting struct {
	ID            int64
	TransactionID int64
	EnvelopeID    int64
	Amount        decimal.Decimal
	CreatedAt     time.Time
}

// ScalePlan converts a saved allocation plan into concrete posting amounts
// for an actual transaction. When actual pay differs from the typical
// amount, every entry is scaled by actual/typical so the plan's relative
// split is preserved. Per-entry rounding residue goes to the largest-share
// entry, which guarantees the postings sum exactly to the scaled plan
// total (the transaction amount itself whenever the plan allocates the
// full typical pay).
func ScalePlan(plan []PlanEntry, typical, actual decimal.Decimal) ([]PlanEntry, error) {
	if !typical.IsPositive() {
		return nil, fmt.Errorf("%w: typical amount must be positive", ErrInvalidAmount)
	}
	if !actual.IsPositive() {
		return nil, fmt.Errorf("%w: transaction amount must be positive", ErrInvalidAmount)
	}
	if len(plan) == 0 {
		return nil, nil
	}

	factor := actual.Div(typical)
	scaled := make([]PlanEntry, len(plan))
	sum := decimal.Zero
	largest := 0
	for i, entry := range plan {
		amt := RoundCurrency(entry.Amount.Mul(factor))
		scaled[i] = PlanEntry{EnvelopeID: entry.EnvelopeID, Amount: amt}
		sum = sum.Add(amt)
		if entry.Amount.GreaterThan(plan[largest].Amount) {
			largest = i
		}
	}

	target := RoundCurrency(planTotal(plan).Mul(factor))
	if residual := target.Sub(sum); !residual.IsZero() {
		scaled[largest].Amount = scaled[largest].Amount.Add(residual)
	}
	return scaled, nil
}

func planTotal(plan []PlanEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range plan {
		total = total.Add(entry.Amount)
	}
	return total
}
