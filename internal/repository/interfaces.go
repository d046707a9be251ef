package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Narrow per-entity store contracts. The engine depends on these interfaces
// only; the pgx implementations and the in-memory implementations used by
// tests both satisfy them.

// RuleStore owns approval rule master data.
type RuleStore interface {
	// ActiveRulesByType returns active rules for a document type ordered by
	// priority descending.
	ActiveRulesByType(ctx context.Context, kind DocumentKind) ([]*ApprovalRule, error)
	// CreateRule inserts a new rule after structural validation.
	CreateRule(ctx context.Context, rule *ApprovalRule) error
	// UpdateRule persists changes to an existing rule.
	UpdateRule(ctx context.Context, rule *ApprovalRule) error
	// RuleByID retrieves a rule by primary key.
	RuleByID(ctx context.Context, id string) (*ApprovalRule, error)
}

// ApprovalStore owns a document's approval chain rows.
type ApprovalStore interface {
	// DeleteForDocument purges every approval row of the document.
	DeleteForDocument(ctx context.Context, ref DocumentRef) error
	// CreateChain inserts the full chain in order.
	CreateChain(ctx context.Context, rows []*DocumentApproval) error
	// FindPending returns all pending rows for the document ordered by
	// step_order. Callers enforce the at-most-one invariant.
	FindPending(ctx context.Context, ref DocumentRef) ([]*DocumentApproval, error)
	// FindByStep returns the row at step order, or nil when absent.
	FindByStep(ctx context.Context, ref DocumentRef, stepOrder int) (*DocumentApproval, error)
	// MarkActioned records an approve/reject outcome on one row.
	MarkActioned(ctx context.Context, id, status, approverID string, remarks *string, at time.Time) error
	// SetStatus flips a row's status without recording an actor.
	SetStatus(ctx context.Context, id, status string) error
	// CancelAll marks every non-terminal row of the document cancelled.
	CancelAll(ctx context.Context, ref DocumentRef) error
	// ListForDocument returns the full chain ordered by step_order.
	ListForDocument(ctx context.Context, ref DocumentRef) ([]*DocumentApproval, error)
	// ListPendingForRole returns pending rows gated on the given role.
	ListPendingForRole(ctx context.Context, role string) ([]*DocumentApproval, error)
}

// BudgetStore owns budget buckets.
type BudgetStore interface {
	// BucketForUpdate loads one bucket under an exclusive row lock held until
	// the surrounding transaction ends. Returns nil when no bucket exists.
	BucketForUpdate(ctx context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error)
	// ApplyDelta adds the given deltas to the bucket's pending/reserved/used
	// columns. Negative deltas decrement.
	ApplyDelta(ctx context.Context, id string, pending, reserved, used decimal.Decimal) error
	// CreateBucket inserts a new bucket (administrative setup).
	CreateBucket(ctx context.Context, b *BudgetBucket) error
	// GetBucket loads one bucket without locking. Absent buckets are a
	// not-found error, unlike BucketForUpdate.
	GetBucket(ctx context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error)
}

// DocumentStore reads document headers + lines and writes status.
type DocumentStore interface {
	// Get loads a document with its lines.
	Get(ctx context.Context, ref DocumentRef) (*Document, error)
	// GetForUpdate loads a document with its lines under an exclusive row
	// lock on the header.
	GetForUpdate(ctx context.Context, ref DocumentRef) (*Document, error)
	// Create inserts a document header and its lines.
	Create(ctx context.Context, doc *Document) error
	// UpdateStatus writes the document's status.
	UpdateStatus(ctx context.Context, ref DocumentRef, status string) error
	// LastNumberForPrefix returns the lexicographically greatest document
	// number starting with prefix, under an exclusive row lock, or "" when
	// none exists yet.
	LastNumberForPrefix(ctx context.Context, kind DocumentKind, prefix string) (string, error)
}

// RateStore reads the exchange rate time series.
type RateStore interface {
	// LatestBefore returns the rate row with the greatest valid_from ≤ asOf
	// (ties broken by most recent created_at), or nil when none precedes asOf.
	LatestBefore(ctx context.Context, currencyCode string, asOf time.Time) (*ExchangeRate, error)
	// Insert appends a new rate row. Rows are never updated or deleted.
	Insert(ctx context.Context, rate *ExchangeRate) error
}

// AuditStore appends and reads the immutable approval audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	TrailForDocument(ctx context.Context, ref DocumentRef) ([]*AuditEntry, error)
}

// Stores bundles every store bound to one query scope (the pool, or a single
// open transaction).
type Stores struct {
	Rules     RuleStore
	Approvals ApprovalStore
	Budgets   BudgetStore
	Documents DocumentStore
	Rates     RateStore
	Audit     AuditStore
}

// TxManager runs a function against transaction-bound stores. fn returning an
// error rolls back every write made through the stores it received.
type TxManager interface {
	InTransaction(ctx context.Context, fn func(s Stores) error) error
}
