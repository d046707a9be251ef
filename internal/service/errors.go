package service

import (
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// Typed failures surfaced by the engine. Callers match them with errors.Is;
// call sites wrap them with document/line context via fmt.Errorf and %w.
var (
	// ErrNoMatchingRule: no active approval rule covers the document type and
	// amount. Submission is blocked; there is no auto-approve fallback.
	ErrNoMatchingRule = errors.New(errors.ErrCodeNotFound, "no approval rule matches the document")

	// ErrAmbiguousRule: two or more matching rules share the top priority.
	// The configuration must be fixed; the engine never picks one arbitrarily.
	ErrAmbiguousRule = errors.New(errors.ErrCodeConflict, "ambiguous approval rule configuration")

	// ErrBudgetBucketNotFound: no bucket configured for a line's
	// (cost_center, gl_account, fiscal_year).
	ErrBudgetBucketNotFound = errors.New(errors.ErrCodeNotFound, "no budget bucket configured")

	// ErrInsufficientBudget: a line's subtotal exceeds the bucket's available
	// amount.
	ErrInsufficientBudget = errors.New(errors.ErrCodeConflict, "insufficient budget")

	// ErrNoPendingStep: approve/reject called with no pending approval row.
	ErrNoPendingStep = errors.New(errors.ErrCodeConflict, "document has no pending approval step")

	// ErrSequenceExhausted: the period's document number sequence ran past
	// the fixed suffix width. A wider suffix would break the lexicographic
	// last-number ordering, so generation stops instead of repeating numbers.
	ErrSequenceExhausted = errors.New(errors.ErrCodeConflict, "document number sequence exhausted for the period")

	// ErrRoleNotHeld: the authenticated actor does not hold the pending
	// step's role.
	ErrRoleNotHeld = errors.New(errors.ErrCodeForbidden, "actor does not hold the required role")

	// ErrSelfApprovalForbidden: the document creator may never approve any
	// step of their own document, at any level, regardless of role.
	ErrSelfApprovalForbidden = errors.New(errors.ErrCodeForbidden, "document creator may not approve their own document")

	// ErrNoRateAvailable: no exchange rate row precedes the requested date.
	ErrNoRateAvailable = errors.New(errors.ErrCodeNotFound, "no exchange rate available for the requested date")
)
