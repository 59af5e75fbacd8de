package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestScalePlanPayVariance(t *testing.T) {
	plan := []PlanEntry{
		{EnvelopeID: 10, Amount: decimal.NewFromInt(1200)},
		{EnvelopeID: 20, Amount: decimal.NewFromInt(800)},
	}
	scaled, err := ScalePlan(plan, decimal.NewFromInt(2000), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	if !scaled[0].Amount.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected 600 for envelope 10, got %s", scaled[0].Amount)
	}
	if !scaled[1].Amount.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected 400 for envelope 20, got %s", scaled[1].Amount)
	}
}

func TestScalePlanExactAtTypical(t *testing.T) {
	plan := []PlanEntry{
		{EnvelopeID: 1, Amount: decimal.RequireFromString("123.45")},
		{EnvelopeID: 2, Amount: decimal.RequireFromString("76.55")},
	}
	scaled, err := ScalePlan(plan, decimal.NewFromInt(200), decimal.NewFromInt(200))
	if err != nil {
		t.Fatal(err)
	}
	for i := range plan {
		if !scaled[i].Amount.Equal(plan[i].Amount) {
			t.Fatalf("entry %d changed at typical pay: %s -> %s", i, plan[i].Amount, scaled[i].Amount)
		}
	}
}

// Postings must sum exactly to the scaled plan total; the rounding
// residue lands on the largest-share entry.
func TestScalePlanResidualToLargestShare(t *testing.T) {
	plan := []PlanEntry{
		{EnvelopeID: 1, Amount: decimal.RequireFromString("33.33")},
		{EnvelopeID: 2, Amount: decimal.RequireFromString("33.33")},
		{EnvelopeID: 3, Amount: decimal.RequireFromString("33.34")},
	}
	typical := decimal.NewFromInt(100)
	actual := decimal.RequireFromString("99.99")
	scaled, err := ScalePlan(plan, typical, actual)
	if err != nil {
		t.Fatal(err)
	}
	sum := decimal.Zero
	for _, entry := range scaled {
		sum = sum.Add(entry.Amount)
	}
	// Plan allocates the full typical pay, so the postings must equal the
	// transaction amount to the cent.
	if !sum.Equal(actual) {
		t.Fatalf("postings sum to %s, want %s", sum, actual)
	}
}

func TestScalePlanSumProperty(t *testing.T) {
	plan := []PlanEntry{
		{EnvelopeID: 1, Amount: decimal.RequireFromString("700")},
		{EnvelopeID: 2, Amount: decimal.RequireFromString("650.50")},
		{EnvelopeID: 3, Amount: decimal.RequireFromString("649.50")},
	}
	typical := decimal.NewFromInt(2000)
	for _, actualStr := range []string{"1000", "2000", "2133.47", "1.01", "3999.99"} {
		actual := decimal.RequireFromString(actualStr)
		scaled, err := ScalePlan(plan, typical, actual)
		if err != nil {
			t.Fatal(err)
		}
		sum := decimal.Zero
		for _, entry := range scaled {
			sum = sum.Add(entry.Amount)
		}
		if !sum.Equal(actual) {
			t.Fatalf("actual %s: postings sum to %s", actualStr, sum)
		}
	}
}

func TestScalePlanEmpty(t *testing.T) {
	scaled, err := ScalePlan(nil, decimal.NewFromInt(2000), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	if len(scaled) != 0 {
		t.Fatalf("expected no entries, got %d", len(scaled))
	}
}

func TestScalePlanInvalidAmounts(t *testing.T) {
	plan := []PlanEntry{{EnvelopeID: 1, Amount: decimal.NewFromInt(100)}}
	if _, err := ScalePlan(plan, decimal.Zero, decimal.NewFromInt(100)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero typical, got %v", err)
	}
	if _, err := ScalePlan(plan, decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero actual, got %v", err)
	}
}
