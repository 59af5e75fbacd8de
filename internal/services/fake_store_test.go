package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory Store for service tests. PostAllocations
// mirrors the repository's idempotence contract: a second posting for
// the same transaction fails with core.ErrDuplicatePosting and leaves
// balances untouched.
type fakeStore struct {
	mu sync.Mutex

	payCycles    map[string]core.Frequency
	sources      map[int64]core.IncomeSource
	envelopes    map[int64]core.Envelope
	transactions map[int64]core.Transaction
	postings     map[int64][]core.AllocationPosting

	nextPostingID int64
	failPostFor   map[int64]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payCycles:    make(map[string]core.Frequency),
		sources:      make(map[int64]core.IncomeSource),
		envelopes:    make(map[int64]core.Envelope),
		transactions: make(map[int64]core.Transaction),
		postings:     make(map[int64][]core.AllocationPosting),
		failPostFor:  make(map[int64]error),
	}
}

func (f *fakeStore) UserPayCycle(_ context.Context, userID string) (core.Frequency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cycle, ok := f.payCycles[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
	}
	return cycle, nil
}

func (f *fakeStore) ActiveIncomeSources(_ context.Context, userID string) ([]core.IncomeSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.IncomeSource
	for _, src := range f.sources {
		if src.UserID == userID && src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

func (f *fakeStore) IncomeSource(_ context.Context, id int64) (core.IncomeSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[id]
	if !ok {
		return core.IncomeSource{}, fmt.Errorf("income source %d: %w", id, core.ErrNotFound)
	}
	return src, nil
}

func (f *fakeStore) Envelope(_ context.Context, id int64) (core.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.envelopes[id]
	if !ok {
		return core.Envelope{}, fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (f *fakeStore) EnvelopesForUser(_ context.Context, userID string) ([]core.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Envelope
	for _, e := range f.envelopes {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) SetAllocation(_ context.Context, envelopeID, sourceID int64, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.envelopes[envelopeID]
	if !ok {
		return core.ErrNotFound
	}
	if e.Allocations == nil {
		e.Allocations = make(map[int64]decimal.Decimal)
	}
	if amount.IsZero() {
		delete(e.Allocations, sourceID)
	} else {
		e.Allocations[sourceID] = amount
	}
	f.envelopes[envelopeID] = e
	return nil
}

func (f *fakeStore) Transaction(_ context.Context, id int64) (core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeStore) SetTransactionState(_ context.Context, id int64, state core.TransactionState, matchedSourceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[id]
	if !ok {
		return core.ErrNotFound
	}
	tx.State = state
	tx.MatchedSourceID = matchedSourceID
	f.transactions[id] = tx
	return nil
}

func (f *fakeStore) UnprocessedTransactions(_ context.Context, _ time.Duration, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for id, tx := range f.transactions {
		if tx.State == core.TxUnprocessed || tx.State == core.TxIncomeDetected {
			out = append(out, id)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) PostingsForTransaction(_ context.Context, txID int64) ([]core.AllocationPosting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.postings[txID], nil
}

func (f *fakeStore) PostAllocations(_ context.Context, txID, sourceID int64, entries []core.PlanEntry) ([]core.AllocationPosting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failPostFor[txID]; ok {
		return nil, err
	}
	if len(f.postings[txID]) > 0 {
		return nil, core.ErrDuplicatePosting
	}
	now := time.Now()
	var created []core.AllocationPosting
	for _, entry := range entries {
		f.nextPostingID++
		created = append(created, core.AllocationPosting{
			ID:            f.nextPostingID,
			TransactionID: txID,
			EnvelopeID:    entry.EnvelopeID,
			Amount:        entry.Amount,
			CreatedAt:     now,
		})
		e := f.envelopes[entry.EnvelopeID]
		e.Balance = e.Balance.Add(entry.Amount)
		f.envelopes[entry.EnvelopeID] = e
	}
	f.postings[txID] = created

	tx := f.transactions[txID]
	tx.State = core.TxAllocated
	tx.MatchedSourceID = sourceID
	f.transactions[txID] = tx
	return created, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *fakePublisher) PublishAllocationPosted(_ context.Context, txID, sourceID int64, postings int, total decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, fmt.Sprintf("tx=%d src=%d n=%d total=%s", txID, sourceID, postings, total.StringFixed(2)))
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
