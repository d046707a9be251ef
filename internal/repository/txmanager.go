package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
)

// NewStores builds the full store bundle bound to q (the pool, or one open
// transaction).
func NewStores(q database.Querier) Stores {
	return Stores{
		Rules:     NewApprovalRulesRepository(q),
		Approvals: NewApprovalRepository(q),
		Budgets:   NewBudgetRepository(q),
		Documents: NewDocumentRepository(q),
		Rates:     NewExchangeRateRepository(q),
		Audit:     NewAuditRepository(q),
	}
}

// PgxTxManager runs unit-of-work functions against transaction-bound stores.
type PgxTxManager struct {
	db *database.DB
}

// NewTxManager creates a PgxTxManager.
func NewTxManager(db *database.DB) *PgxTxManager {
	return &PgxTxManager{db: db}
}

// InTransaction opens one transaction, binds every store to it, and runs fn.
// An error from fn rolls everything back.
func (m *PgxTxManager) InTransaction(ctx context.Context, fn func(s Stores) error) error {
	return m.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}
