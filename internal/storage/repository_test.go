package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUserPayCycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.UserPayCycle(ctx, "ada"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	if err := repo.SetUserPayCycle(ctx, "ada", core.Fortnightly); err != nil {
		t.Fatalf("SetUserPayCycle: %v", err)
	}
	got, err := repo.UserPayCycle(ctx, "ada")
	if err != nil {
		t.Fatalf("UserPayCycle: %v", err)
	}
	if got != core.Fortnightly {
		t.Errorf("pay cycle = %s, want %s", got, core.Fortnightly)
	}

	// Upsert replaces.
	if err := repo.SetUserPayCycle(ctx, "ada", core.Monthly); err != nil {
		t.Fatalf("SetUserPayCycle update: %v", err)
	}
	got, _ = repo.UserPayCycle(ctx, "ada")
	if got != core.Monthly {
		t.Errorf("pay cycle after update = %s, want %s", got, core.Monthly)
	}

	// Quarterly is a valid frequency but not a pay cycle.
	if err := repo.SetUserPayCycle(ctx, "ada", core.Quarterly); !errors.Is(err, core.ErrInvalidFrequency) {
		t.Errorf("error = %v, want ErrInvalidFrequency", err)
	}
}

func TestIncomeSourceRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateIncomeSource(ctx, core.IncomeSource{
		UserID:    "ada",
		Name:      "Salary",
		Amount:    dec("2500.50"),
		Frequency: core.Monthly,
		Active:    true,
		Plan: []core.PlanEntry{
			{EnvelopeID: 1, Amount: dec("1500")},
			{EnvelopeID: 2, Amount: dec("1000.50")},
		},
	})
	if err != nil {
		t.Fatalf("CreateIncomeSource: %v", err)
	}

	got, err := repo.IncomeSource(ctx, id)
	if err != nil {
		t.Fatalf("IncomeSource: %v", err)
	}
	if got.Name != "Salary" || !got.Active {
		t.Errorf("got %+v", got)
	}
	if !got.Amount.Equal(dec("2500.50")) {
		t.Errorf("amount = %s, want 2500.50", got.Amount)
	}
	if len(got.Plan) != 2 {
		t.Fatalf("plan entries = %d, want 2", len(got.Plan))
	}
	// Order preserved.
	if got.Plan[0].EnvelopeID != 1 || !got.Plan[1].Amount.Equal(dec("1000.50")) {
		t.Errorf("plan = %+v", got.Plan)
	}

	if _, err := repo.IncomeSource(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestCreateIncomeSourceValidates(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateIncomeSource(context.Background(), core.IncomeSource{
		UserID:    "ada",
		Name:      "Broken",
		Amount:    dec("-5"),
		Frequency: core.Monthly,
	})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("error = %v, want ErrInvalidAmount", err)
	}
}

func TestActiveIncomeSourcesSkipsDeactivated(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, _ := repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "ada", Name: "Salary", Amount: dec("2000"), Frequency: core.Monthly, Active: true})
	_, _ = repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "ada", Name: "Side Gig", Amount: dec("300"), Frequency: core.Monthly, Active: true})
	_, _ = repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "bob", Name: "Other", Amount: dec("100"), Frequency: core.Weekly, Active: true})

	if err := repo.DeactivateIncomeSource(ctx, id1); err != nil {
		t.Fatalf("DeactivateIncomeSource: %v", err)
	}

	sources, err := repo.ActiveIncomeSources(ctx, "ada")
	if err != nil {
		t.Fatalf("ActiveIncomeSources: %v", err)
	}
	if len(sources) != 1 || sources[0].Name != "Side Gig" {
		t.Errorf("sources = %+v, want Side Gig only", sources)
	}

	if err := repo.DeactivateIncomeSource(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSetIncomeSourcePlanReplaces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, _ := repo.CreateIncomeSource(ctx, core.IncomeSource{
		UserID: "ada", Name: "Salary", Amount: dec("2000"), Frequency: core.Monthly, Active: true,
		Plan: []core.PlanEntry{{EnvelopeID: 1, Amount: dec("2000")}},
	})

	newPlan := []core.PlanEntry{
		{EnvelopeID: 2, Amount: dec("1200")},
		{EnvelopeID: 3, Amount: dec("800")},
	}
	if err := repo.SetIncomeSourcePlan(ctx, id, newPlan); err != nil {
		t.Fatalf("SetIncomeSourcePlan: %v", err)
	}

	got, _ := repo.IncomeSource(ctx, id)
	if len(got.Plan) != 2 || got.Plan[0].EnvelopeID != 2 {
		t.Errorf("plan = %+v, want replaced plan", got.Plan)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateEnvelope(ctx, core.Envelope{
		UserID:       "ada",
		Name:         "Electricity",
		Subtype:      core.SubtypeBill,
		Target:       dec("300"),
		DueFrequency: core.Quarterly,
		Priority:     core.PriorityEssential,
	})
	if err != nil {
		t.Fatalf("CreateEnvelope: %v", err)
	}

	got, err := repo.Envelope(ctx, id)
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if got.Name != "Electricity" || got.Subtype != core.SubtypeBill {
		t.Errorf("got %+v", got)
	}
	if !got.Target.Equal(dec("300")) || got.DueFrequency != core.Quarterly {
		t.Errorf("target = %s, due = %s", got.Target, got.DueFrequency)
	}
	if !got.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", got.Balance)
	}

	if _, err := repo.Envelope(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSetAllocation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	envID, _ := repo.CreateEnvelope(ctx, core.Envelope{UserID: "ada", Name: "Rent", Subtype: core.SubtypeSpending, Target: dec("800")})
	srcID, _ := repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "ada", Name: "Salary", Amount: dec("2000"), Frequency: core.Monthly, Active: true})

	if err := repo.SetAllocation(ctx, envID, srcID, dec("800")); err != nil {
		t.Fatalf("SetAllocation: %v", err)
	}
	got, _ := repo.Envelope(ctx, envID)
	if !got.Allocations[srcID].Equal(dec("800")) {
		t.Errorf("allocation = %s, want 800", got.Allocations[srcID])
	}

	// Upsert overwrites.
	if err := repo.SetAllocation(ctx, envID, srcID, dec("650.25")); err != nil {
		t.Fatalf("SetAllocation update: %v", err)
	}
	got, _ = repo.Envelope(ctx, envID)
	if !got.Allocations[srcID].Equal(dec("650.25")) {
		t.Errorf("allocation = %s, want 650.25", got.Allocations[srcID])
	}

	// Zero deletes the cell.
	if err := repo.SetAllocation(ctx, envID, srcID, decimal.Zero); err != nil {
		t.Fatalf("SetAllocation zero: %v", err)
	}
	got, _ = repo.Envelope(ctx, envID)
	if _, ok := got.Allocations[srcID]; ok {
		t.Error("zero allocation should remove the row")
	}

	if err := repo.SetAllocation(ctx, envID, srcID, dec("-1")); !errors.Is(err, core.ErrInvalidAmount) {
		t.Errorf("error = %v, want ErrInvalidAmount", err)
	}
}

func TestEnvelopesForUserBulkAllocations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	env1, _ := repo.CreateEnvelope(ctx, core.Envelope{UserID: "ada", Name: "Rent", Subtype: core.SubtypeSpending, Target: dec("800")})
	env2, _ := repo.CreateEnvelope(ctx, core.Envelope{UserID: "ada", Name: "Groceries", Subtype: core.SubtypeSpending, Target: dec("400")})
	_, _ = repo.CreateEnvelope(ctx, core.Envelope{UserID: "bob", Name: "Other", Subtype: core.SubtypeSpending, Target: dec("10")})
	srcID, _ := repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "ada", Name: "Salary", Amount: dec("2000"), Frequency: core.Monthly, Active: true})

	_ = repo.SetAllocation(ctx, env1, srcID, dec("800"))
	_ = repo.SetAllocation(ctx, env2, srcID, dec("400"))

	envelopes, err := repo.EnvelopesForUser(ctx, "ada")
	if err != nil {
		t.Fatalf("EnvelopesForUser: %v", err)
	}
	if len(envelopes) != 2 {
		t.Fatalf("envelopes = %d, want 2", len(envelopes))
	}
	for _, e := range envelopes {
		if len(e.Allocations) != 1 {
			t.Errorf("envelope %s allocations = %d, want 1", e.Name, len(e.Allocations))
		}
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateTransaction(ctx, core.Transaction{
		UserID:      "ada",
		Amount:      dec("1999.99"),
		Description: "ACME CORP SALARY",
		OccurredAt:  time.Date(2025, 8, 15, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	got, err := repo.Transaction(ctx, id)
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	if got.State != core.TxUnprocessed {
		t.Errorf("state = %s, want %s", got.State, core.TxUnprocessed)
	}
	if !got.Amount.Equal(dec("1999.99")) {
		t.Errorf("amount = %s, want 1999.99", got.Amount)
	}
	if got.MatchedSourceID != 0 {
		t.Errorf("matched source = %d, want 0", got.MatchedSourceID)
	}

	if err := repo.SetTransactionState(ctx, id, core.TxNeedsReview, 7); err != nil {
		t.Fatalf("SetTransactionState: %v", err)
	}
	got, _ = repo.Transaction(ctx, id)
	if got.State != core.TxNeedsReview || got.MatchedSourceID != 7 {
		t.Errorf("got state=%s matched=%d, want needs_review/7", got.State, got.MatchedSourceID)
	}

	if err := repo.SetTransactionState(ctx, 999, core.TxNotIncome, 0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUnprocessedTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id1, _ := repo.CreateTransaction(ctx, core.Transaction{UserID: "ada", Amount: dec("100"), OccurredAt: time.Now()})
	id2, _ := repo.CreateTransaction(ctx, core.Transaction{UserID: "ada", Amount: dec("200"), OccurredAt: time.Now()})
	_ = repo.SetTransactionState(ctx, id2, core.TxNotIncome, 0)

	// Zero min age includes freshly created rows.
	ids, err := repo.UnprocessedTransactions(ctx, 0, 10)
	if err != nil {
		t.Fatalf("UnprocessedTransactions: %v", err)
	}
	if len(ids) != 1 || ids[0] != id1 {
		t.Errorf("ids = %v, want [%d]", ids, id1)
	}

	// A large min age excludes everything.
	ids, err = repo.UnprocessedTransactions(ctx, time.Hour, 10)
	if err != nil {
		t.Fatalf("UnprocessedTransactions: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}
}

func TestPostAllocations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	env1, _ := repo.CreateEnvelope(ctx, core.Envelope{UserID: "ada", Name: "Rent", Subtype: core.SubtypeSpending, Target: dec("800")})
	env2, _ := repo.CreateEnvelope(ctx, core.Envelope{UserID: "ada", Name: "Groceries", Subtype: core.SubtypeSpending, Target: dec("400")})
	srcID, _ := repo.CreateIncomeSource(ctx, core.IncomeSource{UserID: "ada", Name: "Salary", Amount: dec("2000"), Frequency: core.Monthly, Active: true})
	txID, _ := repo.CreateTransaction(ctx, core.Transaction{UserID: "ada", Amount: dec("2000"), OccurredAt: time.Now()})

	entries := []core.PlanEntry{
		{EnvelopeID: env1, Amount: dec("1200")},
		{EnvelopeID: env2, Amount: dec("800")},
	}
	postings, err := repo.PostAllocations(ctx, txID, srcID, entries)
	if err != nil {
		t.Fatalf("PostAllocations: %v", err)
	}
	if len(postings) != 2 {
		t.Fatalf("postings = %d, want 2", len(postings))
	}

	// Balances credited.
	e1, _ := repo.Envelope(ctx, env1)
	if !e1.Balance.Equal(dec("1200")) {
		t.Errorf("rent balance = %s, want 1200", e1.Balance)
	}

	// Transaction moved to allocated with the source recorded.
	tx, _ := repo.Transaction(ctx, txID)
	if tx.State != core.TxAllocated || tx.MatchedSourceID != srcID {
		t.Errorf("tx state=%s matched=%d, want allocated/%d", tx.State, tx.MatchedSourceID, srcID)
	}

	// Replays are rejected and leave balances untouched.
	if _, err := repo.PostAllocations(ctx, txID, srcID, entries); !errors.Is(err, core.ErrDuplicatePosting) {
		t.Fatalf("error = %v, want ErrDuplicatePosting", err)
	}
	e1, _ = repo.Envelope(ctx, env1)
	if !e1.Balance.Equal(dec("1200")) {
		t.Errorf("rent balance after replay = %s, want 1200", e1.Balance)
	}

	// Prior postings remain readable for the replay response.
	stored, err := repo.PostingsForTransaction(ctx, txID)
	if err != nil {
		t.Fatalf("PostingsForTransaction: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored postings = %d, want 2", len(stored))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
	if isUniqueViolation(errors.New("no such table")) {
		t.Error("unrelated error is not a unique violation")
	}
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: allocation_postings.transaction_id")) {
		t.Error("unique constraint error should be recognized")
	}
}
