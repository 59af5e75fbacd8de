package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Allocator turns detected income transactions into allocation postings.
// Processing a transaction is idempotent: a replayed id returns the
// previously recorded outcome without touching balances again.
type Allocator struct {
	store       Store
	matcher     IncomeMatcher
	publisher   EventPublisher
	threshold   float64
	concurrency int
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithPublisher attaches an event publisher. Publish failures are logged
// and never fail the allocation itself.
func WithPublisher(p EventPublisher) AllocatorOption {
	return func(a *Allocator) { a.publisher = p }
}

// WithConcurrency caps how many transactions a batch processes at once.
func WithConcurrency(n int) AllocatorOption {
	return func(a *Allocator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAllocator builds an allocator. Matches below threshold leave the
// transaction marked as not income.
func NewAllocator(store Store, matcher IncomeMatcher, threshold float64, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		store:       store,
		matcher:     matcher,
		threshold:   threshold,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result describes what happened to one transaction.
type Result struct {
	TransactionID int64                    `json:"transaction_id"`
	State         core.TransactionState    `json:"state"`
	SourceID      int64                    `json:"income_source_id,omitempty"`
	Postings      []core.AllocationPosting `json:"postings,omitempty"`
	Total         decimal.Decimal          `json:"total"`
	Err           error                    `json:"-"`
}

// ProcessTransaction runs the full pipeline for one transaction: match it
// against the user's income sources, scale the matched source's plan to
// the actual amount and post the allocations atomically.
func (a *Allocator) ProcessTransaction(ctx context.Context, txID int64) (Result, error) {
	tx, err := a.store.Transaction(ctx, txID)
	if err != nil {
		return Result{TransactionID: txID}, err
	}

	// Terminal states report the recorded outcome and do nothing else.
	switch tx.State {
	case core.TxAllocated:
		postings, err := a.store.PostingsForTransaction(ctx, txID)
		if err != nil {
			return Result{TransactionID: txID}, err
		}
		return allocatedResult(txID, tx.MatchedSourceID, postings), nil
	case core.TxNotIncome, core.TxNeedsReview:
		return Result{TransactionID: txID, State: tx.State, SourceID: tx.MatchedSourceID}, nil
	}

	sources, err := a.store.ActiveIncomeSources(ctx, tx.UserID)
	if err != nil {
		return Result{TransactionID: txID}, fmt.Errorf("load income sources: %w", err)
	}
	match, err := a.matcher.MatchIncome(ctx, tx, sources)
	if err != nil {
		return Result{TransactionID: txID}, fmt.Errorf("match income: %w", err)
	}
	if match.SourceID == 0 || match.Confidence < a.threshold {
		if err := a.store.SetTransactionState(ctx, txID, core.TxNotIncome, 0); err != nil {
			return Result{TransactionID: txID}, err
		}
		slog.InfoContext(ctx, "Transaction is not income",
			"transaction_id", txID, "confidence", match.Confidence)
		return Result{TransactionID: txID, State: core.TxNotIncome}, nil
	}

	source, err := a.store.IncomeSource(ctx, match.SourceID)
	if err != nil {
		return Result{TransactionID: txID}, err
	}
	if len(source.Plan) == 0 {
		if err := a.store.SetTransactionState(ctx, txID, core.TxNeedsReview, source.ID); err != nil {
			return Result{TransactionID: txID}, err
		}
		slog.WarnContext(ctx, "Income matched but source has no allocation plan",
			"transaction_id", txID, "income_source_id", source.ID)
		return Result{TransactionID: txID, State: core.TxNeedsReview, SourceID: source.ID}, nil
	}

	plan, err := core.ScalePlan(source.Plan, source.Amount, tx.Amount)
	if err != nil {
		return Result{TransactionID: txID}, fmt.Errorf("scale plan: %w", err)
	}

	postings, err := a.store.PostAllocations(ctx, txID, source.ID, plan)
	if errors.Is(err, core.ErrDuplicatePosting) {
		// A concurrent worker won the race; its outcome is ours.
		postings, err = a.store.PostingsForTransaction(ctx, txID)
		if err != nil {
			return Result{TransactionID: txID}, err
		}
		return allocatedResult(txID, source.ID, postings), nil
	}
	if err != nil {
		return Result{TransactionID: txID}, fmt.Errorf("post allocations: %w", err)
	}

	result := allocatedResult(txID, source.ID, postings)
	slog.InfoContext(ctx, "Income allocated",
		"transaction_id", txID,
		"income_source_id", source.ID,
		"postings", len(postings),
		"total", result.Total.StringFixed(2))

	if a.publisher != nil {
		if err := a.publisher.PublishAllocationPosted(ctx, txID, source.ID, len(postings), result.Total); err != nil {
			slog.ErrorContext(ctx, "Failed to publish allocation event",
				"transaction_id", txID, "error", err)
		}
	}
	return result, nil
}

// ProcessTransactions handles a batch concurrently. Each transaction
// fails or succeeds on its own; the returned results are ordered like
// the input and per-transaction failures are carried in Result.Err.
func (a *Allocator) ProcessTransactions(ctx context.Context, txIDs []int64) []Result {
	results := make([]Result, len(txIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, id := range txIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := a.ProcessTransaction(ctx, id)
			res.Err = err
			results[i] = res
			return nil
		})
	}
	g.Wait()
	return results
}

func allocatedResult(txID, sourceID int64, postings []core.AllocationPosting) Result {
	total := decimal.Zero
	for _, p := range postings {
		total = total.Add(p.Amount)
	}
	return Result{
		TransactionID: txID,
		State:         core.TxAllocated,
		SourceID:      sourceID,
		Postings:      postings,
		Total:         total,
	}
}
