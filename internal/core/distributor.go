package core

import "github.com/shopspring/decimal"

// SourceShare is one income source's slice of the household's total
// per-cycle income. Share is kept at full precision; only amounts derived
// from it are rounded.
type SourceShare struct {
	SourceID int64
	PerCycle decimal.Decimal
	Share    decimal.Decimal
}

// IncomeShares normalizes every active source onto the pay cycle and
// computes each one's proportional share of the total. Inactive sources
// are skipped. Returns ErrNoIncomeAvailable when the normalized total is
// zero, so callers surface guidance instead of dividing by zero.
func IncomeShares(sources []IncomeSource, payCycle Frequency) ([]SourceShare, decimal.Decimal, error) {
	var shares []SourceShare
	total := decimal.Zero
	for _, src := range sources {
		if !src.Active {
			continue
		}
		perCycle, err := src.PerCycle(payCycle)
		if err != nil {
			return nil, decimal.Zero, err
		}
		shares = append(shares, SourceShare{SourceID: src.ID, PerCycle: perCycle})
		total = total.Add(perCycle)
	}
	if !total.IsPositive() {
		return nil, decimal.Zero, ErrNoIncomeAvailable
	}
	for i := range shares {
		shares[i].Share = shares[i].PerCycle.Div(total)
	}
	return shares, total, nil
}

// SuggestSplit distributes an envelope's ideal contribution across income
// sources in proportion to their shares. Each slice is rounded to currency
// precision independently; the cent or two of drift this can leave is
// accepted because suggestions are always re-derived from source amounts,
// never persisted.
func SuggestSplit(ideal decimal.Decimal, shares []SourceShare) map[int64]decimal.Decimal {
	split := make(map[int64]decimal.Decimal, len(shares))
	for _, sh := range shares {
		split[sh.SourceID] = RoundCurrency(ideal.Mul(sh.Share))
	}
	return split
}
