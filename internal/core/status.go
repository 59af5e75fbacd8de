package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FundingState classifies how well an envelope's per-cycle allocation
// covers its ideal contribution.
type FundingState string

const (
	StateNoTarget    FundingState = "no_target"
	StateFullyFunded FundingState = "fully_funded"
	StateShortfall   FundingState = "shortfall"
	StateUnfunded    FundingState = "unfunded"
)

// FundingStatus is the derived funding picture for one envelope.
type FundingStatus struct {
	Ideal     decimal.Decimal
	Allocated decimal.Decimal
	Gap       decimal.Decimal
	State     FundingState
}

// Status computes ideal, allocated, gap and state for an envelope on the
// given pay cycle. A gap within Epsilon counts as fully funded to absorb
// per-source rounding.
func Status(e Envelope, payCycle Frequency) (FundingStatus, error) {
	ideal, err := IdealPerCycle(e, payCycle)
	if err != nil {
		return FundingStatus{}, err
	}
	allocated := RoundCurrency(e.AllocatedPerCycle())
	gap := ideal.Sub(allocated)
	if gap.IsNegative() {
		gap = decimal.Zero
	}

	st := FundingStatus{Ideal: ideal, Allocated: allocated, Gap: gap}
	switch {
	case ideal.IsZero():
		st.State = StateNoTarget
	case gap.LessThanOrEqual(Epsilon):
		st.State = StateFullyFunded
	case allocated.IsZero():
		st.State = StateUnfunded
	default:
		st.State = StateShortfall
	}
	return st, nil
}

// RankedEnvelope pairs an envelope with its computed status for ranking.
type RankedEnvelope struct {
	Envelope Envelope
	Status   FundingStatus
}

// RankUnfunded orders envelopes for the shortfall view: priority first
// (essential before important before discretionary), then largest gap.
// An essential envelope with any gap outranks a discretionary one no
// matter how large the latter's gap is. The sort is stable so equal rows
// keep their input order.
func RankUnfunded(rows []RankedEnvelope) {
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := rows[i].Envelope.Priority.Rank(), rows[j].Envelope.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return rows[i].Status.Gap.GreaterThan(rows[j].Status.Gap)
	})
}
