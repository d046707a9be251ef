package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// RuleResolver selects the approval rule that applies to a document: same
// document type, amount within [min, max], highest priority wins. Ranges may
// overlap; a tie at the winning priority is a configuration error, never a
// storage-order pick.
type RuleResolver struct {
	log *logger.Logger
}

// NewRuleResolver creates a RuleResolver.
func NewRuleResolver(log *logger.Logger) *RuleResolver {
	return &RuleResolver{log: log}
}

// Resolve returns the applicable rule for the document type and amount.
func (r *RuleResolver) Resolve(ctx context.Context, rules repository.RuleStore, kind repository.DocumentKind, amount decimal.Decimal) (*repository.ApprovalRule, error) {
	candidates, err := rules.ActiveRulesByType(ctx, kind)
	if err != nil {
		return nil, err
	}

	// candidates arrive priority-descending
	var matched []*repository.ApprovalRule
	for _, rule := range candidates {
		if amount.GreaterThanOrEqual(rule.MinAmount) && amount.LessThanOrEqual(rule.MaxAmount) {
			matched = append(matched, rule)
		}
	}

	if len(matched) == 0 {
		return nil, fmt.Errorf("document type %s, amount %s: %w", kind, amount, ErrNoMatchingRule)
	}
	if len(matched) > 1 && matched[0].Priority == matched[1].Priority {
		return nil, fmt.Errorf("rules %q and %q both match at priority %d for document type %s, amount %s: %w",
			matched[0].RuleName, matched[1].RuleName, matched[0].Priority, kind, amount, ErrAmbiguousRule)
	}

	r.log.Debug().
		Str("rule_id", matched[0].ID).
		Str("rule_name", matched[0].RuleName).
		Int("steps", len(matched[0].Steps)).
		Msg("Approval rule resolved")

	return matched[0], nil
}
