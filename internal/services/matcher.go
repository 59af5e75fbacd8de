package services

import (
	"context"
	"strings"

	"envelopes/internal/core"
)

// Match is an income matcher's verdict for one transaction.
type Match struct {
	SourceID   int64
	Confidence float64
}

// IncomeMatcher decides whether a transaction is a pay event and, if so,
// which income source it belongs to. The host application may plug in
// its own implementation.
type IncomeMatcher interface {
	MatchIncome(ctx context.Context, tx core.Transaction, sources []core.IncomeSource) (Match, error)
}

// AmountMatcher is the built-in heuristic: a positive transaction whose
// amount is close to a source's typical pay is that source's income, with
// confidence falling off as the relative difference grows. A description
// containing the source name raises confidence.
type AmountMatcher struct {
	// Tolerance is the relative amount difference at which confidence
	// reaches zero. Defaults to 0.5 (half the typical pay).
	Tolerance float64
}

func (m AmountMatcher) MatchIncome(_ context.Context, tx core.Transaction, sources []core.IncomeSource) (Match, error) {
	if !tx.Amount.IsPositive() {
		return Match{}, nil
	}
	tolerance := m.Tolerance
	if tolerance <= 0 {
		tolerance = 0.5
	}

	best := Match{}
	for _, src := range sources {
		if !src.Active || !src.Amount.IsPositive() {
			continue
		}
		diff, _ := tx.Amount.Sub(src.Amount).Abs().Div(src.Amount).Float64()
		if diff >= tolerance {
			continue
		}
		confidence := 1 - diff/tolerance
		if strings.Contains(strings.ToLower(tx.Description), strings.ToLower(src.Name)) {
			confidence = confidence + (1-confidence)/2
		}
		if confidence > best.Confidence {
			best = Match{SourceID: src.ID, Confidence: confidence}
		}
	}
	return best, nil
}
