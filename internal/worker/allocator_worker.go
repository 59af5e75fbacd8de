package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"envelopes/internal/amqp"
	"envelopes/internal/core"
	"envelopes/internal/services"
)

// AllocatorWorker drives the income allocator from two directions: AMQP
// messages for freshly ingested transactions and a periodic sweep that
// picks up transactions whose messages were lost.
type AllocatorWorker struct {
	allocator *services.Allocator
	store     services.Store
	batchSize int
	minAge    time.Duration
}

func NewAllocatorWorker(allocator *services.Allocator, store services.Store, batchSize int, minAge time.Duration) *AllocatorWorker {
	return &AllocatorWorker{
		allocator: allocator,
		store:     store,
		batchSize: batchSize,
		minAge:    minAge,
	}
}

// HandleTransactionMessage processes a single transaction message from
// AMQP. Errors propagate so the delivery gets nacked and requeued.
func (w *AllocatorWorker) HandleTransactionMessage(ctx context.Context, msg *amqp.TransactionCreatedMessage) error {
	slog.InfoContext(ctx, "Processing transaction message",
		"transaction_id", msg.TransactionID)

	result, err := w.allocator.ProcessTransaction(ctx, msg.TransactionID)
	if err != nil {
		return fmt.Errorf("process transaction %d: %w", msg.TransactionID, err)
	}

	slog.InfoContext(ctx, "Transaction processed",
		"transaction_id", msg.TransactionID,
		"state", string(result.State),
		"postings", len(result.Postings))
	return nil
}

// SweepPending allocates transactions stuck in a non-terminal state.
// This is a backup mechanism in case AMQP messages are lost; the minimum
// age keeps the sweep from racing in-flight message handling.
func (w *AllocatorWorker) SweepPending(ctx context.Context) error {
	ids, err := w.store.UnprocessedTransactions(ctx, w.minAge, w.batchSize)
	if err != nil {
		return fmt.Errorf("list unprocessed transactions: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Sweeping pending transactions", "count", len(ids))

	results := w.allocator.ProcessTransactions(ctx, ids)
	allocated := 0
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			slog.ErrorContext(ctx, "Failed to process transaction during sweep",
				"transaction_id", res.TransactionID, "error", res.Err)
			failed++
			continue
		}
		if res.State == core.TxAllocated {
			allocated++
		}
	}

	slog.InfoContext(ctx, "Sweep completed",
		"total", len(ids),
		"allocated", allocated,
		"errors", failed)
	return nil
}

// StartupSweep runs a larger sweep at worker startup to recover from
// downtime.
func (w *AllocatorWorker) StartupSweep(ctx context.Context) error {
	ids, err := w.store.UnprocessedTransactions(ctx, w.minAge, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("list unprocessed transactions for startup sweep: %w", err)
	}
	if len(ids) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup, processing...",
		"count", len(ids))

	results := w.allocator.ProcessTransactions(ctx, ids)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			slog.ErrorContext(ctx, "Failed to process transaction during startup sweep",
				"transaction_id", res.TransactionID, "error", res.Err)
			failed++
		}
	}

	slog.InfoContext(ctx, "Startup sweep completed",
		"total", len(ids),
		"errors", failed)
	return nil
}
