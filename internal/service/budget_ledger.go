package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// BudgetLedger moves value through the per-(cost_center, gl_account,
// fiscal_year) buckets in lock-step with a document's approval lifecycle:
//
//	Check   — read-only availability gate, must precede any mutation
//	Lock    — pending  += subtotal   (submitted, awaiting approval)
//	Release — pending  −= subtotal   (cancelled, or swapped for a firmer hold)
//	Commit  — reserved += subtotal   (order created from an approved requisition)
//
// Every operation loads buckets under an exclusive row lock, so a concurrent
// submission against the same bucket waits for the whole check+mutate
// sequence instead of racing it. After every committed mutation
// allocated ≥ pending + reserved + used holds.
type BudgetLedger struct {
	log *logger.Logger
}

// NewBudgetLedger creates a BudgetLedger.
func NewBudgetLedger(log *logger.Logger) *BudgetLedger {
	return &BudgetLedger{log: log}
}

// Check verifies every line of the document fits its bucket's available
// amount. It mutates nothing; all lines must pass before any Lock.
func (l *BudgetLedger) Check(ctx context.Context, budgets repository.BudgetStore, doc *repository.Document) error {
	for _, line := range doc.Lines {
		bucket, err := l.bucketFor(ctx, budgets, line, doc.FiscalYear())
		if err != nil {
			return err
		}
		if available := bucket.Available(); line.Subtotal.GreaterThan(available) {
			return fmt.Errorf("line %d (%s): requested %s, available %s: %w",
				line.LineNumber, line.Description, line.Subtotal, available, ErrInsufficientBudget)
		}
	}
	return nil
}

// Lock soft-reserves every line's subtotal as pending. Must only run after
// Check has passed, inside the same transaction.
func (l *BudgetLedger) Lock(ctx context.Context, budgets repository.BudgetStore, doc *repository.Document) error {
	for _, line := range doc.Lines {
		bucket, err := l.bucketFor(ctx, budgets, line, doc.FiscalYear())
		if err != nil {
			return err
		}
		if err := budgets.ApplyDelta(ctx, bucket.ID, line.Subtotal, decimal.Zero, decimal.Zero); err != nil {
			return err
		}

		l.log.Debug().
			Str("bucket_id", bucket.ID).
			Str("amount", line.Subtotal.String()).
			Msg("Budget pending locked")
	}
	return nil
}

// Release returns every line's pending reservation to the bucket. The
// decrement is floored at the bucket's current pending amount so pending can
// never go negative.
func (l *BudgetLedger) Release(ctx context.Context, budgets repository.BudgetStore, doc *repository.Document) error {
	for _, line := range doc.Lines {
		bucket, err := l.bucketFor(ctx, budgets, line, doc.FiscalYear())
		if err != nil {
			return err
		}

		delta := decimal.Min(line.Subtotal, bucket.AmountPending)
		if delta.IsZero() {
			continue
		}
		if err := budgets.ApplyDelta(ctx, bucket.ID, delta.Neg(), decimal.Zero, decimal.Zero); err != nil {
			return err
		}

		l.log.Debug().
			Str("bucket_id", bucket.ID).
			Str("amount", delta.String()).
			Msg("Budget pending released")
	}
	return nil
}

// Commit takes a firm reservation for every line of the document. Unlike
// Lock it re-verifies availability itself: callers pair it with a Release of
// the upstream document, and the pair must leave the ledger invariant intact
// even when the two documents draw on different buckets.
func (l *BudgetLedger) Commit(ctx context.Context, budgets repository.BudgetStore, doc *repository.Document) error {
	for _, line := range doc.Lines {
		bucket, err := l.bucketFor(ctx, budgets, line, doc.FiscalYear())
		if err != nil {
			return err
		}
		if available := bucket.Available(); line.Subtotal.GreaterThan(available) {
			return fmt.Errorf("line %d (%s): requested %s, available %s: %w",
				line.LineNumber, line.Description, line.Subtotal, available, ErrInsufficientBudget)
		}
		if err := budgets.ApplyDelta(ctx, bucket.ID, decimal.Zero, line.Subtotal, decimal.Zero); err != nil {
			return err
		}

		l.log.Debug().
			Str("bucket_id", bucket.ID).
			Str("amount", line.Subtotal.String()).
			Msg("Budget reserved")
	}
	return nil
}

func (l *BudgetLedger) bucketFor(ctx context.Context, budgets repository.BudgetStore, line *repository.DocumentLine, fiscalYear int) (*repository.BudgetBucket, error) {
	bucket, err := budgets.BucketForUpdate(ctx, line.CostCenterID, line.GLAccountID, fiscalYear)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, fmt.Errorf("cost center %s, account %s, fiscal year %d: %w",
			line.CostCenterID, line.GLAccountID, fiscalYear, ErrBudgetBucketNotFound)
	}
	return bucket, nil
}
