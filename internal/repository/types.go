package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Documents ────────────────────────────────────────────────────────────────

// DocumentKind tags the concrete document table a reference points at.
type DocumentKind string

const (
	KindRequisition DocumentKind = "purchase_requisition"
	KindOrder       DocumentKind = "purchase_order"
)

// NumberPrefix returns the document-number prefix for the kind.
func (k DocumentKind) NumberPrefix() string {
	switch k {
	case KindOrder:
		return "PO"
	default:
		return "PR"
	}
}

// Valid reports whether k names a known document kind.
func (k DocumentKind) Valid() bool {
	return k == KindRequisition || k == KindOrder
}

// DocumentRef identifies one document without loading it.
type DocumentRef struct {
	Kind DocumentKind `json:"kind"`
	ID   string       `json:"id"`
}

// Document statuses.
const (
	DocumentStatusDraft     = "draft"
	DocumentStatusSubmitted = "submitted"
	DocumentStatusApproved  = "approved"
	DocumentStatusRejected  = "rejected"
	DocumentStatusCancelled = "cancelled"
	DocumentStatusOrdered   = "ordered" // requisition converted into an order
	DocumentStatusOpen      = "open"    // order created from an approved requisition
)

// Document is a purchase requisition or purchase order header. The engine
// reads its fields and mutates only Status; everything else belongs to the
// CRUD layer.
type Document struct {
	ID           string           `json:"id"`
	Kind         DocumentKind     `json:"kind"`
	Number       string           `json:"number"`
	Status       string           `json:"status"`
	TotalAmount  decimal.Decimal  `json:"total_amount"`
	Currency     string           `json:"currency"`
	BaseAmount   *decimal.Decimal `json:"base_amount,omitempty"`   // snapshot, set on conversion
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"` // snapshot, set on conversion
	CostCenterID string           `json:"cost_center_id"`
	SourceID     *string          `json:"source_id,omitempty"` // order: originating requisition
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Lines        []*DocumentLine  `json:"lines"`
}

// Ref returns the reference for the document.
func (d *Document) Ref() DocumentRef {
	return DocumentRef{Kind: d.Kind, ID: d.ID}
}

// FiscalYear is the budget year a document draws from. It derives from the
// document's creation time, not the clock.
func (d *Document) FiscalYear() int {
	return d.CreatedAt.Year()
}

// DocumentLine is one budget-attributable line of a document.
type DocumentLine struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"document_id"`
	LineNumber   int             `json:"line_number"`
	Description  string          `json:"description"`
	CostCenterID string          `json:"cost_center_id"`
	GLAccountID  string          `json:"gl_account_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// ── Approval rules ───────────────────────────────────────────────────────────

// RuleStep is one entry in an approval rule's steps JSONB array.
type RuleStep struct {
	StepOrder int    `json:"step_order"` // 1-based, unique within rule
	Role      string `json:"role"`
}

// ApprovalRule routes documents of one type within an amount range through an
// ordered chain of role-gated steps.
type ApprovalRule struct {
	ID           string          `json:"id"`
	RuleName     string          `json:"rule_name"`
	DocumentType DocumentKind    `json:"document_type"`
	IsActive     bool            `json:"is_active"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	Currency     string          `json:"currency"`
	Priority     int             `json:"priority"` // higher wins
	Steps        []RuleStep      `json:"steps"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ── Approval chain ───────────────────────────────────────────────────────────

// Approval row statuses.
const (
	ApprovalStatusWaiting   = "waiting"
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusCancelled = "cancelled"
)

// DocumentApproval is one step of a document's approval chain. RoleName is
// snapshotted from the rule step at chain creation, so later rule edits never
// alter in-flight chains.
type DocumentApproval struct {
	ID           string       `json:"id"`
	DocumentType DocumentKind `json:"document_type"`
	DocumentID   string       `json:"document_id"`
	StepOrder    int          `json:"step_order"`
	RoleName     string       `json:"role_name"`
	ApproverID   *string      `json:"approver_id,omitempty"`
	Status       string       `json:"status"`
	Remarks      *string      `json:"remarks,omitempty"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ── Budget ───────────────────────────────────────────────────────────────────

// BudgetBucket scopes allocated/pending/reserved/used amounts to one
// (cost_center, gl_account, fiscal_year) key.
type BudgetBucket struct {
	ID              string          `json:"id"`
	CostCenterID    string          `json:"cost_center_id"`
	GLAccountID     string          `json:"gl_account_id"`
	FiscalYear      int             `json:"fiscal_year"`
	AmountAllocated decimal.Decimal `json:"amount_allocated"`
	AmountPending   decimal.Decimal `json:"amount_pending"`
	AmountReserved  decimal.Decimal `json:"amount_reserved"`
	AmountUsed      decimal.Decimal `json:"amount_used"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Available is what the bucket can still accept:
// allocated − (pending + reserved + used).
func (b *BudgetBucket) Available() decimal.Decimal {
	return b.AmountAllocated.
		Sub(b.AmountPending).
		Sub(b.AmountReserved).
		Sub(b.AmountUsed)
}

// ── Exchange rates ───────────────────────────────────────────────────────────

// ExchangeRate is one row of a currency's append-only rate time series.
// Rate is a direct quote: 1 unit of CurrencyCode = Rate units of base.
type ExchangeRate struct {
	ID           string          `json:"id"`
	CurrencyCode string          `json:"currency_code"`
	Rate         decimal.Decimal `json:"rate"` // 6 fractional digits
	ValidFrom    time.Time       `json:"valid_from"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ── Audit ────────────────────────────────────────────────────────────────────

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	DocumentType DocumentKind   `json:"document_type"`
	DocumentID   string         `json:"document_id"`
	Action       string         `json:"action"` // created | submitted | approved | rejected | cancelled | converted
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
