package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// Administrative operations on the routing and budget master data. These are
// setup-time writes; the document lifecycle only reads this data.

// CreateRule registers a new approval rule. Structural validation (contiguous
// 1-based steps, min ≤ max) happens in the store.
func (p *ProcurementService) CreateRule(ctx context.Context, rule *repository.ApprovalRule) (*repository.ApprovalRule, error) {
	rule.Currency = strings.ToUpper(rule.Currency)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		return s.Rules.CreateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.RuleName).
		Str("document_type", string(rule.DocumentType)).
		Int("priority", rule.Priority).
		Msg("Approval rule created")

	return rule, nil
}

// UpdateRule replaces an existing rule's definition. Chains already in flight
// keep the role names they snapshotted at submission.
func (p *ProcurementService) UpdateRule(ctx context.Context, rule *repository.ApprovalRule) (*repository.ApprovalRule, error) {
	if rule.ID == "" {
		return nil, errors.InvalidInput("id", "rule id is required")
	}
	rule.Currency = strings.ToUpper(rule.Currency)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		return s.Rules.UpdateRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.RuleName).
		Bool("is_active", rule.IsActive).
		Msg("Approval rule updated")

	return rule, nil
}

// GetRule loads a rule by id.
func (p *ProcurementService) GetRule(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	return p.stores.Rules.RuleByID(ctx, id)
}

// ListRules returns the active rules for a document kind, highest priority
// first.
func (p *ProcurementService) ListRules(ctx context.Context, kind repository.DocumentKind) ([]*repository.ApprovalRule, error) {
	if !kind.Valid() {
		return nil, errors.InvalidInput("kind", "unknown document kind")
	}
	return p.stores.Rules.ActiveRulesByType(ctx, kind)
}

// CreateBudgetBucket allocates a new budget bucket for a cost center, GL
// account and fiscal year.
func (p *ProcurementService) CreateBudgetBucket(ctx context.Context, costCenterID, glAccountID string, fiscalYear int, allocated decimal.Decimal) (*repository.BudgetBucket, error) {
	if costCenterID == "" {
		return nil, errors.InvalidInput("cost_center_id", "cost center is required")
	}
	if glAccountID == "" {
		return nil, errors.InvalidInput("gl_account_id", "gl account is required")
	}
	if fiscalYear <= 0 {
		return nil, errors.InvalidInput("fiscal_year", "fiscal year is required")
	}

	bucket := &repository.BudgetBucket{
		CostCenterID:    costCenterID,
		GLAccountID:     glAccountID,
		FiscalYear:      fiscalYear,
		AmountAllocated: allocated.Round(amountScale),
		AmountPending:   decimal.Zero,
		AmountReserved:  decimal.Zero,
		AmountUsed:      decimal.Zero,
	}

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		return s.Budgets.CreateBucket(ctx, bucket)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("bucket_id", bucket.ID).
		Str("cost_center_id", costCenterID).
		Str("gl_account_id", glAccountID).
		Int("fiscal_year", fiscalYear).
		Str("amount_allocated", bucket.AmountAllocated.String()).
		Msg("Budget bucket created")

	return bucket, nil
}

// GetBudgetBucket loads one bucket with its current position.
func (p *ProcurementService) GetBudgetBucket(ctx context.Context, costCenterID, glAccountID string, fiscalYear int) (*repository.BudgetBucket, error) {
	return p.stores.Budgets.GetBucket(ctx, costCenterID, glAccountID, fiscalYear)
}
