package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// Fixed-point scales. Currency amounts carry 2 fractional digits, exchange
// rates 6. Floats never enter the money path.
const (
	amountScale int32 = 2
	rateScale   int32 = 6
)

// RateResolver resolves time-versioned exchange rates and converts amounts
// to and from the base currency. Rates are direct quotes: 1 unit of foreign
// currency = rate units of base.
type RateResolver struct {
	baseCurrency string
	log          *logger.Logger
}

// NewRateResolver creates a RateResolver for the given base currency code.
func NewRateResolver(baseCurrency string, log *logger.Logger) *RateResolver {
	return &RateResolver{baseCurrency: strings.ToUpper(baseCurrency), log: log}
}

// BaseCurrency returns the configured base currency code.
func (r *RateResolver) BaseCurrency() string {
	return r.baseCurrency
}

// Rate returns the applicable rate for a currency on asOf: the row with the
// greatest valid_from ≤ asOf, most recently created winning ties. The base
// currency short-circuits to 1 and needs no row.
func (r *RateResolver) Rate(ctx context.Context, rates repository.RateStore, currency string, asOf time.Time) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == r.baseCurrency {
		return decimal.NewFromInt(1), nil
	}

	row, err := rates.LatestBefore(ctx, currency, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, fmt.Errorf("%s as of %s: %w",
			currency, asOf.Format("2006-01-02"), ErrNoRateAvailable)
	}
	return row.Rate.Round(rateScale), nil
}

// ConvertOptions overrides rate resolution for one conversion.
type ConvertOptions struct {
	// ManualRate bypasses the time series entirely when set.
	ManualRate *decimal.Decimal
	// AsOf selects the rate date; zero value means now.
	AsOf *time.Time
}

// ToBase converts amount from currency into the base currency, rounded to 2
// fractional digits.
func (r *RateResolver) ToBase(ctx context.Context, rates repository.RateStore, amount decimal.Decimal, currency string, opts ConvertOptions) (decimal.Decimal, error) {
	rate, err := r.resolveRate(ctx, rates, currency, opts)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(amountScale), nil
}

// FromBase converts a base-currency amount into currency, rounded to 2
// fractional digits. A zero rate yields zero rather than dividing by zero.
func (r *RateResolver) FromBase(ctx context.Context, rates repository.RateStore, amount decimal.Decimal, currency string, opts ConvertOptions) (decimal.Decimal, error) {
	rate, err := r.resolveRate(ctx, rates, currency, opts)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsZero() {
		return decimal.Zero, nil
	}
	return amount.Div(rate).Round(amountScale), nil
}

func (r *RateResolver) resolveRate(ctx context.Context, rates repository.RateStore, currency string, opts ConvertOptions) (decimal.Decimal, error) {
	if opts.ManualRate != nil {
		return opts.ManualRate.Round(rateScale), nil
	}
	asOf := time.Now()
	if opts.AsOf != nil {
		asOf = *opts.AsOf
	}
	return r.Rate(ctx, rates, currency, asOf)
}

// RecordRate appends a new rate row. History is never edited: a correction
// is a new row with its own valid_from, so documents that already
// snapshotted the old rate keep their audit trail.
func (r *RateResolver) RecordRate(ctx context.Context, rates repository.RateStore, currency string, rate decimal.Decimal, validFrom time.Time, createdBy string) (*repository.ExchangeRate, error) {
	row := &repository.ExchangeRate{
		CurrencyCode: strings.ToUpper(currency),
		Rate:         rate.Round(rateScale),
		ValidFrom:    validFrom,
		CreatedBy:    createdBy,
	}
	if err := rates.Insert(ctx, row); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("currency", row.CurrencyCode).
		Str("rate", row.Rate.String()).
		Str("valid_from", row.ValidFrom.Format("2006-01-02")).
		Msg("Exchange rate recorded")

	return row, nil
}
