// Package storage persists envelopes, income sources, transactions and
// the allocation ledger in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"envelopes/internal/core"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// isUniqueViolation recognizes the sqlite unique-index error used as the
// idempotence guard on allocation postings.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- user settings ---

func (r *SQLiteRepository) UserPayCycle(ctx context.Context, userID string) (core.Frequency, error) {
	var cycle string
	err := r.db.QueryRowContext(ctx,
		`SELECT pay_cycle FROM user_settings WHERE user_id = ?`, userID).Scan(&cycle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("pay cycle for user %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get pay cycle: %w", err)
	}
	return core.ParseFrequency(cycle)
}

func (r *SQLiteRepository) SetUserPayCycle(ctx context.Context, userID string, cycle core.Frequency) error {
	if !core.ValidPayCycle(cycle) {
		return fmt.Errorf("%w: %q is not a pay cycle", core.ErrInvalidFrequency, string(cycle))
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, pay_cycle) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET pay_cycle = excluded.pay_cycle`,
		userID, string(cycle))
	if err != nil {
		return fmt.Errorf("set pay cycle: %w", err)
	}
	return nil
}

// --- income sources ---

func (r *SQLiteRepository) CreateIncomeSource(ctx context.Context, src core.IncomeSource) (int64, error) {
	if err := src.Validate(); err != nil {
		return 0, err
	}
	var next sql.NullTime
	if !src.NextDate.IsZero() {
		next = sql.NullTime{Time: src.NextDate, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO income_sources (user_id, name, amount_cents, frequency, active, next_date)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		src.UserID, src.Name, core.DecimalToCents(src.Amount), string(src.Frequency), src.Active, next)
	if err != nil {
		return 0, fmt.Errorf("create income source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("income source id: %w", err)
	}
	if len(src.Plan) > 0 {
		if err := r.SetIncomeSourcePlan(ctx, id, src.Plan); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *SQLiteRepository) IncomeSource(ctx context.Context, id int64) (core.IncomeSource, error) {
	src, err := r.scanIncomeSource(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, amount_cents, frequency, active, next_date, created_at
		 FROM income_sources WHERE id = ?`, id))
	if err != nil {
		return core.IncomeSource{}, err
	}
	plan, err := r.planForSource(ctx, id)
	if err != nil {
		return core.IncomeSource{}, err
	}
	src.Plan = plan
	return src, nil
}

func (r *SQLiteRepository) ActiveIncomeSources(ctx context.Context, userID string) ([]core.IncomeSource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, amount_cents, frequency, active, next_date, created_at
		 FROM income_sources WHERE user_id = ? AND active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list income sources: %w", err)
	}
	defer rows.Close()

	var sources []core.IncomeSource
	for rows.Next() {
		src, err := r.scanIncomeSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list income sources: %w", err)
	}
	for i := range sources {
		plan, err := r.planForSource(ctx, sources[i].ID)
		if err != nil {
			return nil, err
		}
		sources[i].Plan = plan
	}
	return sources, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanIncomeSource(row rowScanner) (core.IncomeSource, error) {
	var (
		src    core.IncomeSource
		cents  int64
		freq   string
		next   sql.NullTime
	)
	err := row.Scan(&src.ID, &src.UserID, &src.Name, &cents, &freq, &src.Active, &next, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IncomeSource{}, fmt.Errorf("income source: %w", core.ErrNotFound)
	}
	if err != nil {
		return core.IncomeSource{}, fmt.Errorf("scan income source: %w", err)
	}
	src.Amount = core.CentsToDecimal(cents)
	src.Frequency = core.Frequency(freq)
	if next.Valid {
		src.NextDate = next.Time
	}
	return src, nil
}

func (r *SQLiteRepository) planForSource(ctx context.Context, sourceID int64) ([]core.PlanEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT envelope_id, amount_cents FROM income_allocation_rules
		 WHERE income_source_id = ? ORDER BY position`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load allocation rule: %w", err)
	}
	defer rows.Close()

	var plan []core.PlanEntry
	for rows.Next() {
		var (
			envelopeID int64
			cents      int64
		)
		if err := rows.Scan(&envelopeID, &cents); err != nil {
			return nil, fmt.Errorf("scan allocation rule: %w", err)
		}
		plan = append(plan, core.PlanEntry{EnvelopeID: envelopeID, Amount: core.CentsToDecimal(cents)})
	}
	return plan, rows.Err()
}

// SetIncomeSourcePlan replaces a source's ordered allocation rule.
func (r *SQLiteRepository) SetIncomeSourcePlan(ctx context.Context, sourceID int64, plan []core.PlanEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM income_allocation_rules WHERE income_source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear allocation rule: %w", err)
	}
	for i, entry := range plan {
		if entry.Amount.IsNegative() {
			return fmt.Errorf("%w: negative plan amount", core.ErrInvalidAmount)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO income_allocation_rules (income_source_id, position, envelope_id, amount_cents)
			 VALUES (?, ?, ?, ?)`,
			sourceID, i, entry.EnvelopeID, core.DecimalToCents(entry.Amount)); err != nil {
			return fmt.Errorf("insert allocation rule: %w", err)
		}
	}
	return tx.Commit()
}

// DeactivateIncomeSource soft-deletes a source. Historical postings keep
// referring to it, so the row itself is never removed.
func (r *SQLiteRepository) DeactivateIncomeSource(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE income_sources SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate income source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("income source %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// --- envelopes ---

func (r *SQLiteRepository) CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO envelopes (user_id, name, subtype, target_cents, due_frequency, priority, balance_cents)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Name, string(e.Subtype), core.DecimalToCents(e.Target),
		string(e.DueFrequency), string(e.Priority), core.DecimalToCents(e.Balance))
	if err != nil {
		return 0, fmt.Errorf("create envelope: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("envelope id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) Envelope(ctx context.Context, id int64) (core.Envelope, error) {
	e, err := r.scanEnvelope(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, subtype, target_cents, due_frequency, priority, balance_cents, created_at
		 FROM envelopes WHERE id = ?`, id))
	if err != nil {
		return core.Envelope{}, err
	}
	allocations, err := r.allocationsForEnvelope(ctx, id)
	if err != nil {
		return core.Envelope{}, err
	}
	e.Allocations = allocations
	return e, nil
}

func (r *SQLiteRepository) EnvelopesForUser(ctx context.Context, userID string) ([]core.Envelope, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, name, subtype, target_cents, due_frequency, priority, balance_cents, created_at
		 FROM envelopes WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var envelopes []core.Envelope
	byID := make(map[int64]int)
	for rows.Next() {
		e, err := r.scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		e.Allocations = make(map[int64]decimal.Decimal)
		byID[e.ID] = len(envelopes)
		envelopes = append(envelopes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}

	allocRows, err := r.db.QueryContext(ctx,
		`SELECT ea.envelope_id, ea.income_source_id, ea.amount_cents
		 FROM envelope_allocations ea
		 JOIN envelopes e ON e.id = ea.envelope_id
		 WHERE e.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list envelope allocations: %w", err)
	}
	defer allocRows.Close()
	for allocRows.Next() {
		var envelopeID, sourceID, cents int64
		if err := allocRows.Scan(&envelopeID, &sourceID, &cents); err != nil {
			return nil, fmt.Errorf("scan envelope allocation: %w", err)
		}
		if i, ok := byID[envelopeID]; ok {
			envelopes[i].Allocations[sourceID] = core.CentsToDecimal(cents)
		}
	}
	return envelopes, allocRows.Err()
}

func (r *SQLiteRepository) scanEnvelope(row rowScanner) (core.Envelope, error) {
	var (
		e            core.Envelope
		subtype      string
		targetCents  int64
		dueFreq      sql.NullString
		priority     string
		balanceCents int64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &subtype, &targetCents, &dueFreq, &priority, &balanceCents, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, fmt.Errorf("envelope: %w", core.ErrNotFound)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("scan envelope: %w", err)
	}
	e.Subtype = core.EnvelopeSubtype(subtype)
	e.Target = core.CentsToDecimal(targetCents)
	if dueFreq.Valid {
		e.DueFrequency = core.Frequency(dueFreq.String)
	}
	e.Priority = core.Priority(priority)
	e.Balance = core.CentsToDecimal(balanceCents)
	return e, nil
}

func (r *SQLiteRepository) allocationsForEnvelope(ctx context.Context, envelopeID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT income_source_id, amount_cents FROM envelope_allocations WHERE envelope_id = ?`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("load envelope allocations: %w", err)
	}
	defer rows.Close()

	allocations := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var sourceID, cents int64
		if err := rows.Scan(&sourceID, &cents); err != nil {
			return nil, fmt.Errorf("scan envelope allocation: %w", err)
		}
		allocations[sourceID] = core.CentsToDecimal(cents)
	}
	return allocations, rows.Err()
}

// SetAllocation writes one cell of the envelope's funding map. Zero
// removes the row. Last writer wins; callers needing stronger guarantees
// must add their own revision check.
func (r *SQLiteRepository) SetAllocation(ctx context.Context, envelopeID, sourceID int64, amount decimal.Decimal) error {
	if err := core.ValidateAmount(amount); err != nil {
		return err
	}
	cents := core.DecimalToCents(amount)
	var err error
	if cents == 0 {
		_, err = r.db.ExecContext(ctx,
			`DELETE FROM envelope_allocations WHERE envelope_id = ? AND income_source_id = ?`,
			envelopeID, sourceID)
	} else {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO envelope_allocations (envelope_id, income_source_id, amount_cents)
			 VALUES (?, ?, ?)
			 ON CONFLICT(envelope_id, income_source_id) DO UPDATE SET amount_cents = excluded.amount_cents`,
			envelopeID, sourceID, cents)
	}
	if err != nil {
		return fmt.Errorf("set allocation: %w", err)
	}
	return nil
}

// --- transactions ---

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	state := t.State
	if state == "" {
		state = core.TxUnprocessed
	}
	occurred := t.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	// created_at is written from Go so age comparisons in
	// UnprocessedTransactions always see the same serialization.
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, amount_cents, description, occurred_at, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.UserID, core.DecimalToCents(t.Amount), t.Description, occurred, string(state), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) Transaction(ctx context.Context, id int64) (core.Transaction, error) {
	var (
		t       core.Transaction
		cents   int64
		state   string
		matched sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount_cents, description, occurred_at, state, matched_source_id
		 FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.UserID, &cents, &t.Description, &t.OccurredAt, &state, &matched)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	t.Amount = core.CentsToDecimal(cents)
	t.State = core.TransactionState(state)
	if matched.Valid {
		t.MatchedSourceID = matched.Int64
	}
	return t, nil
}

// SetTransactionState records a state transition that creates no
// postings (not_income, income_detected, needs_review).
func (r *SQLiteRepository) SetTransactionState(ctx context.Context, id int64, state core.TransactionState, matchedSourceID int64) error {
	var matched sql.NullInt64
	if matchedSourceID != 0 {
		matched = sql.NullInt64{Int64: matchedSourceID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET state = ?, matched_source_id = ? WHERE id = ?`,
		string(state), matched, id)
	if err != nil {
		return fmt.Errorf("set transaction state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// UnprocessedTransactions returns ids still awaiting the allocator,
// oldest first, skipping anything newer than minAge so the AMQP consumer
// gets a chance to handle fresh events before the sweep does.
func (r *SQLiteRepository) UnprocessedTransactions(ctx context.Context, minAge time.Duration, limit int) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-minAge)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM transactions
		 WHERE state IN (?, ?) AND created_at <= ?
		 ORDER BY created_at LIMIT ?`,
		string(core.TxUnprocessed), string(core.TxIncomeDetected), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed transactions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- allocation postings ---

func (r *SQLiteRepository) PostingsForTransaction(ctx context.Context, txID int64) ([]core.AllocationPosting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, transaction_id, envelope_id, amount_cents, created_at
		 FROM allocation_postings WHERE transaction_id = ? ORDER BY id`, txID)
	if err != nil {
		return nil, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	var postings []core.AllocationPosting
	for rows.Next() {
		var (
			p     core.AllocationPosting
			cents int64
		)
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.EnvelopeID, &cents, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		p.Amount = core.CentsToDecimal(cents)
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// PostAllocations atomically writes the ledger effect of one income
// transaction: all postings, the envelope balance increments and the
// transaction's transition to allocated, in a single SQL transaction.
// A transaction that already has postings yields ErrDuplicatePosting,
// whether detected by the pre-check or by the unique index when two
// attempts race; the caller treats that as "return the prior result".
func (r *SQLiteRepository) PostAllocations(ctx context.Context, txID, sourceID int64, entries []core.PlanEntry) ([]core.AllocationPosting, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin posting: %w", err)
	}
	defer tx.Rollback()

	var existing int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM allocation_postings WHERE transaction_id = ?`, txID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("check existing postings: %w", err)
	}
	if existing > 0 {
		return nil, core.ErrDuplicatePosting
	}

	now := time.Now().UTC()
	postings := make([]core.AllocationPosting, 0, len(entries))
	for _, entry := range entries {
		cents := core.DecimalToCents(entry.Amount)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO allocation_postings (transaction_id, envelope_id, amount_cents, created_at)
			 VALUES (?, ?, ?, ?)`,
			txID, entry.EnvelopeID, cents, now)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, core.ErrDuplicatePosting
			}
			return nil, fmt.Errorf("insert posting: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("posting id: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE envelopes SET balance_cents = balance_cents + ? WHERE id = ?`,
			cents, entry.EnvelopeID); err != nil {
			return nil, fmt.Errorf("credit envelope %d: %w", entry.EnvelopeID, err)
		}

		postings = append(postings, core.AllocationPosting{
			ID:            id,
			TransactionID: txID,
			EnvelopeID:    entry.EnvelopeID,
			Amount:        entry.Amount,
			CreatedAt:     now,
		})
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET state = ?, matched_source_id = ? WHERE id = ?`,
		string(core.TxAllocated), sourceID, txID); err != nil {
		return nil, fmt.Errorf("mark transaction allocated: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, core.ErrDuplicatePosting
		}
		return nil, fmt.Errorf("commit posting: %w", err)
	}

	slog.InfoContext(ctx, "Allocation postings committed",
		"transaction_id", txID,
		"income_source_id", sourceID,
		"postings", len(postings))
	return postings, nil
}
