package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// BudgetRepository owns the budget_buckets table. Buckets are created by
// administrators ahead of the fiscal year; this repository mutates only the
// pending/reserved/used columns.
type BudgetRepository struct {
	db database.Querier
}

// NewBudgetRepository creates a new BudgetRepository.
func NewBudgetRepository(db database.Querier) *BudgetRepository {
	return &BudgetRepository{db: db}
}

const bucketColumns = `
	id, cost_center_id, gl_account_id, fiscal_year,
	amount_allocated, amount_pending, amount_reserved, amount_used,
	created_at, updated_at`

// CreateBucket inserts a new bucket (administrative setup).
func (r *BudgetRepository) CreateBucket(ctx context.Context, b *BudgetBucket) error {
	if b.AmountAllocated.IsNegative() {
		return errors.InvalidInput("amount_allocated", "allocation cannot be negative")
	}

	query := `
		INSERT INTO budget_buckets
		    (cost_center_id, gl_account_id, fiscal_year, amount_allocated)
		VALUES ($1, $2, $3, $4)
		RETURNING id, amount_pending, amount_reserved, amount_used, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		b.CostCenterID,
		b.GLAccountID,
		b.FiscalYear,
		b.AmountAllocated,
	).Scan(&b.ID, &b.AmountPending, &b.AmountReserved, &b.AmountUsed, &b.CreatedAt, &b.UpdatedAt)
}

// BucketForUpdate loads one bucket under an exclusive row lock, held until
// the surrounding transaction commits. Two submissions against the same
// bucket therefore serialize across their whole check+mutate sequence.
// Returns nil when no bucket is configured for the key.
func (r *BudgetRepository) BucketForUpdate(ctx context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error) {
	query := `
		SELECT ` + bucketColumns + `
		FROM budget_buckets
		WHERE cost_center_id = $1
		  AND gl_account_id = $2
		  AND fiscal_year = $3
		FOR UPDATE
	`

	b, err := scanBucket(r.db.QueryRow(ctx, query, costCenterID, glAccountID, fiscalYear))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return b, err
}

// GetBucket loads one bucket without locking it.
func (r *BudgetRepository) GetBucket(ctx context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error) {
	query := `
		SELECT ` + bucketColumns + `
		FROM budget_buckets
		WHERE cost_center_id = $1
		  AND gl_account_id = $2
		  AND fiscal_year = $3
	`

	b, err := scanBucket(r.db.QueryRow(ctx, query, costCenterID, glAccountID, fiscalYear))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("budget_bucket", costCenterID+"/"+glAccountID)
	}
	return b, err
}

// ApplyDelta adds the given deltas to the bucket's pending/reserved/used
// columns. The table's check constraint rejects any mutation that would break
// allocated ≥ pending + reserved + used or drive a column negative.
func (r *BudgetRepository) ApplyDelta(ctx context.Context, id string, pending, reserved, used decimal.Decimal) error {
	query := `
		UPDATE budget_buckets
		SET amount_pending  = amount_pending + $2,
		    amount_reserved = amount_reserved + $3,
		    amount_used     = amount_used + $4,
		    updated_at      = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, pending, reserved, used).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("budget_bucket", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply budget delta")
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

func scanBucket(row rowScanner) (*BudgetBucket, error) {
	b := &BudgetBucket{}
	err := row.Scan(
		&b.ID,
		&b.CostCenterID,
		&b.GLAccountID,
		&b.FiscalYear,
		&b.AmountAllocated,
		&b.AmountPending,
		&b.AmountReserved,
		&b.AmountUsed,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
