// Package services orchestrates the funding engine over the persistence
// layer: suggestions, manual allocation writes, funding status views and
// the income event allocator.
package services

import (
	"context"
	"time"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"
)

// Store is the persistence surface the services need. Implemented by
// storage.SQLiteRepository; tests substitute an in-memory fake.
type Store interface {
	UserPayCycle(ctx context.Context, userID string) (core.Frequency, error)

	ActiveIncomeSources(ctx context.Context, userID string) ([]core.IncomeSource, error)
	IncomeSource(ctx context.Context, id int64) (core.IncomeSource, error)

	Envelope(ctx context.Context, id int64) (core.Envelope, error)
	EnvelopesForUser(ctx context.Context, userID string) ([]core.Envelope, error)
	SetAllocation(ctx context.Context, envelopeID, sourceID int64, amount decimal.Decimal) error

	Transaction(ctx context.Context, id int64) (core.Transaction, error)
	SetTransactionState(ctx context.Context, id int64, state core.TransactionState, matchedSourceID int64) error
	UnprocessedTransactions(ctx context.Context, minAge time.Duration, limit int) ([]int64, error)

	PostingsForTransaction(ctx context.Context, txID int64) ([]core.AllocationPosting, error)
	PostAllocations(ctx context.Context, txID, sourceID int64, entries []core.PlanEntry) ([]core.AllocationPosting, error)
}

// EventPublisher emits engine events for interested consumers. A nil
// publisher disables publishing; failures are logged, never propagated.
type EventPublisher interface {
	PublishAllocationPosted(ctx context.Context, txID, sourceID int64, postings int, total decimal.Decimal) error
}
