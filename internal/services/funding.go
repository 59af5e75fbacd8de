package services

import (
	"context"
	"fmt"
	"log/slog"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"
)

// FundingService answers the read side of the engine (suggestions and
// funding status) and performs manual allocation writes.
type FundingService struct {
	store Store
}

func NewFundingService(store Store) *FundingService {
	return &FundingService{store: store}
}

// SourceSuggestion is one income source's slice of the suggestion view.
type SourceSuggestion struct {
	SourceID int64           `json:"income_source_id"`
	Name     string          `json:"name"`
	PerCycle decimal.Decimal `json:"per_cycle"`
	Share    decimal.Decimal `json:"share"`
}

// EnvelopeSuggestion carries an envelope's ideal contribution and its
// proportional split across income sources.
type EnvelopeSuggestion struct {
	EnvelopeID     int64                     `json:"envelope_id"`
	Name           string                    `json:"name"`
	IdealPerCycle  decimal.Decimal           `json:"ideal_per_cycle"`
	SuggestedSplit map[int64]decimal.Decimal `json:"suggested_split"`
}

// Suggestions is the full suggestion view for a user. It is re-derived
// from income amounts on every call so rounding drift never accumulates.
type Suggestions struct {
	PayCycle      core.Frequency       `json:"pay_cycle"`
	TotalPerCycle decimal.Decimal      `json:"total_income_per_cycle"`
	Sources       []SourceSuggestion   `json:"per_income_source"`
	Envelopes     []EnvelopeSuggestion `json:"per_envelope"`
}

// GetSuggestions computes the proportional funding suggestion for every
// envelope of the user. Returns core.ErrNoIncomeAvailable when the user
// has no active income to distribute.
func (s *FundingService) GetSuggestions(ctx context.Context, userID string) (Suggestions, error) {
	payCycle, err := s.store.UserPayCycle(ctx, userID)
	if err != nil {
		return Suggestions{}, err
	}
	sources, err := s.store.ActiveIncomeSources(ctx, userID)
	if err != nil {
		return Suggestions{}, fmt.Errorf("load income sources: %w", err)
	}
	shares, total, err := core.IncomeShares(sources, payCycle)
	if err != nil {
		return Suggestions{}, err
	}

	names := make(map[int64]string, len(sources))
	for _, src := range sources {
		names[src.ID] = src.Name
	}
	out := Suggestions{PayCycle: payCycle, TotalPerCycle: total}
	for _, sh := range shares {
		out.Sources = append(out.Sources, SourceSuggestion{
			SourceID: sh.SourceID,
			Name:     names[sh.SourceID],
			PerCycle: sh.PerCycle,
			Share:    sh.Share.Round(4),
		})
	}

	envelopes, err := s.store.EnvelopesForUser(ctx, userID)
	if err != nil {
		return Suggestions{}, fmt.Errorf("load envelopes: %w", err)
	}
	for _, e := range envelopes {
		ideal, err := core.IdealPerCycle(e, payCycle)
		if err != nil {
			return Suggestions{}, fmt.Errorf("envelope %d: %w", e.ID, err)
		}
		out.Envelopes = append(out.Envelopes, EnvelopeSuggestion{
			EnvelopeID:     e.ID,
			Name:           e.Name,
			IdealPerCycle:  ideal,
			SuggestedSplit: core.SuggestSplit(ideal, shares),
		})
	}
	return out, nil
}

// SetAllocation writes one cell of an envelope's funding map in manual
// mode. Both ids must belong to the caller's account; over-allocation is
// allowed here and warned about at the presentation layer.
func (s *FundingService) SetAllocation(ctx context.Context, userID string, envelopeID, sourceID int64, amount decimal.Decimal) error {
	if err := core.ValidateAmount(amount); err != nil {
		return err
	}
	envelope, err := s.store.Envelope(ctx, envelopeID)
	if err != nil {
		return err
	}
	if envelope.UserID != userID {
		return fmt.Errorf("envelope %d: %w", envelopeID, core.ErrNotFound)
	}
	source, err := s.store.IncomeSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if source.UserID != userID || !source.Active {
		return fmt.Errorf("income source %d: %w", sourceID, core.ErrNotFound)
	}
	if err := s.store.SetAllocation(ctx, envelopeID, sourceID, core.RoundCurrency(amount)); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Allocation updated",
		"user_id", userID,
		"envelope_id", envelopeID,
		"income_source_id", sourceID,
		"amount", amount.StringFixed(2))
	return nil
}

// StatusRow is one envelope's funding picture in a status view.
type StatusRow struct {
	EnvelopeID int64              `json:"envelope_id"`
	Name       string             `json:"name"`
	Priority   core.Priority      `json:"priority"`
	Ideal      decimal.Decimal    `json:"ideal"`
	Allocated  decimal.Decimal    `json:"allocated"`
	Gap        decimal.Decimal    `json:"gap"`
	State      core.FundingState  `json:"state"`
}

// AllocationRow is one envelope's funded amount within an income group.
type AllocationRow struct {
	EnvelopeID int64           `json:"envelope_id"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
}

// IncomeGroup lists what a single income source funds per cycle.
type IncomeGroup struct {
	SourceID    int64           `json:"income_source_id"`
	Name        string          `json:"name"`
	PerCycle    decimal.Decimal `json:"per_cycle"`
	Allocations []AllocationRow `json:"allocations"`
}

// StatusView is the response of the funding-status endpoint; exactly one
// of Unfunded/ByIncome is populated depending on the requested view.
type StatusView struct {
	View     string        `json:"view"`
	Unfunded []StatusRow   `json:"unfunded,omitempty"`
	ByIncome []IncomeGroup `json:"by_income,omitempty"`
}

const (
	ViewUnfunded = "unfunded"
	ViewByIncome = "by-income"
)

// FundingStatus builds the requested status view for a user.
func (s *FundingService) FundingStatus(ctx context.Context, userID, view string) (StatusView, error) {
	payCycle, err := s.store.UserPayCycle(ctx, userID)
	if err != nil {
		return StatusView{}, err
	}
	envelopes, err := s.store.EnvelopesForUser(ctx, userID)
	if err != nil {
		return StatusView{}, fmt.Errorf("load envelopes: %w", err)
	}

	switch view {
	case ViewUnfunded:
		rows, err := unfundedRows(envelopes, payCycle)
		if err != nil {
			return StatusView{}, err
		}
		return StatusView{View: view, Unfunded: rows}, nil
	case ViewByIncome:
		sources, err := s.store.ActiveIncomeSources(ctx, userID)
		if err != nil {
			return StatusView{}, fmt.Errorf("load income sources: %w", err)
		}
		return StatusView{View: view, ByIncome: byIncomeGroups(envelopes, sources, payCycle)}, nil
	default:
		return StatusView{}, fmt.Errorf("unknown view %q", view)
	}
}

func unfundedRows(envelopes []core.Envelope, payCycle core.Frequency) ([]StatusRow, error) {
	var ranked []core.RankedEnvelope
	for _, e := range envelopes {
		st, err := core.Status(e, payCycle)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", e.ID, err)
		}
		if st.State == core.StateShortfall || st.State == core.StateUnfunded {
			ranked = append(ranked, core.RankedEnvelope{Envelope: e, Status: st})
		}
	}
	core.RankUnfunded(ranked)

	rows := make([]StatusRow, len(ranked))
	for i, r := range ranked {
		rows[i] = StatusRow{
			EnvelopeID: r.Envelope.ID,
			Name:       r.Envelope.Name,
			Priority:   r.Envelope.Priority,
			Ideal:      r.Status.Ideal,
			Allocated:  r.Status.Allocated,
			Gap:        r.Status.Gap,
			State:      r.Status.State,
		}
	}
	return rows, nil
}

func byIncomeGroups(envelopes []core.Envelope, sources []core.IncomeSource, payCycle core.Frequency) []IncomeGroup {
	groups := make([]IncomeGroup, 0, len(sources))
	for _, src := range sources {
		perCycle, err := src.PerCycle(payCycle)
		if err != nil {
			perCycle = decimal.Zero
		}
		group := IncomeGroup{SourceID: src.ID, Name: src.Name, PerCycle: perCycle}
		for _, e := range envelopes {
			if amt, ok := e.Allocations[src.ID]; ok && amt.IsPositive() {
				group.Allocations = append(group.Allocations, AllocationRow{
					EnvelopeID: e.ID,
					Name:       e.Name,
					Amount:     amt,
				})
			}
		}
		groups = append(groups, group)
	}
	return groups
}
