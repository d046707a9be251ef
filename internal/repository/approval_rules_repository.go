package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-procurement/internal/database"
	"github.com/pesio-ai/be-procurement/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db database.Querier
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db database.Querier) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// CreateRule inserts a new approval rule after structural validation.
func (r *ApprovalRulesRepository) CreateRule(ctx context.Context, rule *ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(rule.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule steps")
	}

	query := `
		INSERT INTO approval_rules
		    (rule_name, document_type, is_active,
		     min_amount, max_amount, currency,
		     priority, steps)
		VALUES ($1, $2::document_kind, $3,
		        $4, $5, $6,
		        $7, $8)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		rule.RuleName,
		rule.DocumentType,
		rule.IsActive,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Currency,
		rule.Priority,
		stepsJSON,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
}

// UpdateRule persists changes to an existing rule. In-flight chains are
// unaffected because they snapshot role names at creation.
func (r *ApprovalRulesRepository) UpdateRule(ctx context.Context, rule *ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	stepsJSON, err := json.Marshal(rule.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule steps")
	}

	query := `
		UPDATE approval_rules
		SET rule_name     = $2,
		    document_type = $3::document_kind,
		    is_active     = $4,
		    min_amount    = $5,
		    max_amount    = $6,
		    currency      = $7,
		    priority      = $8,
		    steps         = $9,
		    updated_at    = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.RuleName,
		rule.DocumentType,
		rule.IsActive,
		rule.MinAmount,
		rule.MaxAmount,
		rule.Currency,
		rule.Priority,
		stepsJSON,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// RuleByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) RuleByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `
		SELECT id, rule_name, document_type, is_active,
		       min_amount, max_amount, currency,
		       priority, steps, created_at, updated_at
		FROM approval_rules
		WHERE id = $1
	`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	return rule, err
}

// ActiveRulesByType returns active rules for one document type ordered by
// priority descending.
func (r *ApprovalRulesRepository) ActiveRulesByType(ctx context.Context, kind DocumentKind) ([]*ApprovalRule, error) {
	query := `
		SELECT id, rule_name, document_type, is_active,
		       min_amount, max_amount, currency,
		       priority, steps, created_at, updated_at
		FROM approval_rules
		WHERE document_type = $1::document_kind
		  AND is_active = TRUE
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, kind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// validateRule enforces the structural invariants an administrator could
// otherwise violate: amount range ordering and 1-based contiguous steps.
func validateRule(rule *ApprovalRule) error {
	if !rule.DocumentType.Valid() {
		return errors.InvalidInput("document_type", "unknown document type")
	}
	if rule.MinAmount.GreaterThan(rule.MaxAmount) {
		return errors.InvalidInput("min_amount", "min_amount must not exceed max_amount")
	}
	if len(rule.Steps) == 0 {
		return errors.InvalidInput("steps", "rule must define at least one step")
	}
	for i, step := range rule.Steps {
		if step.StepOrder != i+1 {
			return errors.InvalidInput("steps", "step orders must be contiguous starting at 1")
		}
		if step.Role == "" {
			return errors.InvalidInput("steps", "every step requires a role name")
		}
	}
	return nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var stepsJSON []byte

	err := row.Scan(
		&rule.ID,
		&rule.RuleName,
		&rule.DocumentType,
		&rule.IsActive,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.Currency,
		&rule.Priority,
		&stepsJSON,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &rule.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule steps")
	}
	return rule, nil
}
