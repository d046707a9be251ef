package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// ExchangeRateRepository owns the exchange_rates table: an append-only time
// series per currency. Corrections are new dated rows, never edits, so rates
// already snapshotted into documents keep their audit trail.
type ExchangeRateRepository struct {
	db database.Querier
}

// NewExchangeRateRepository creates a new ExchangeRateRepository.
func NewExchangeRateRepository(db database.Querier) *ExchangeRateRepository {
	return &ExchangeRateRepository{db: db}
}

// LatestBefore returns the rate row with the greatest valid_from ≤ asOf,
// ties broken by most recent created_at. Returns nil when no row precedes
// asOf.
func (r *ExchangeRateRepository) LatestBefore(ctx context.Context, currencyCode string, asOf time.Time) (*ExchangeRate, error) {
	query := `
		SELECT id, currency_code, rate, valid_from, created_by, created_at
		FROM exchange_rates
		WHERE currency_code = $1
		  AND valid_from <= $2
		ORDER BY valid_from DESC, created_at DESC
		LIMIT 1
	`

	rate := &ExchangeRate{}
	err := r.db.QueryRow(ctx, query, currencyCode, asOf).Scan(
		&rate.ID,
		&rate.CurrencyCode,
		&rate.Rate,
		&rate.ValidFrom,
		&rate.CreatedBy,
		&rate.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query exchange rate")
	}
	return rate, nil
}

// Insert appends a new rate row.
func (r *ExchangeRateRepository) Insert(ctx context.Context, rate *ExchangeRate) error {
	if !rate.Rate.IsPositive() {
		return errors.InvalidInput("rate", "exchange rate must be positive")
	}

	query := `
		INSERT INTO exchange_rates (currency_code, rate, valid_from, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		rate.CurrencyCode,
		rate.Rate,
		rate.ValidFrom,
		rate.CreatedBy,
	).Scan(&rate.ID, &rate.CreatedAt)
}
