package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// ApprovalEngine drives a document's ordered approval chain. Steps advance
// strictly sequentially: exactly one row is pending at any instant, the next
// row flips waiting→pending only when the current one is approved, and a
// rejection kills the chain for good.
//
// Every method expects to run inside the caller's unit of work; none of them
// open transactions of their own.
type ApprovalEngine struct {
	resolver *RuleResolver
	log      *logger.Logger
}

// NewApprovalEngine creates an ApprovalEngine.
func NewApprovalEngine(resolver *RuleResolver, log *logger.Logger) *ApprovalEngine {
	return &ApprovalEngine{resolver: resolver, log: log}
}

// StepOutcome reports what a chain mutation did.
type StepOutcome struct {
	// Step is the row that was acted on.
	Step *repository.DocumentApproval
	// Next is the row flipped to pending, nil when Step was the last.
	Next *repository.DocumentApproval
	// Final is true when the document reached approved or rejected.
	Final bool
}

// InitChain resolves the applicable rule and materializes the document's
// approval chain: one row per rule step with the role name snapshotted, step
// 1 pending, the rest waiting. Any rows from a previous submission are
// purged first, so resubmission fully replaces the chain.
func (e *ApprovalEngine) InitChain(ctx context.Context, s repository.Stores, doc *repository.Document) ([]*repository.DocumentApproval, error) {
	rule, err := e.resolver.Resolve(ctx, s.Rules, doc.Kind, doc.TotalAmount)
	if err != nil {
		return nil, err
	}
	if len(rule.Steps) == 0 {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("approval rule %s has no steps", rule.ID))
	}

	if err := s.Approvals.DeleteForDocument(ctx, doc.Ref()); err != nil {
		return nil, err
	}

	rows := make([]*repository.DocumentApproval, 0, len(rule.Steps))
	for _, step := range rule.Steps {
		status := repository.ApprovalStatusWaiting
		if step.StepOrder == 1 {
			status = repository.ApprovalStatusPending
		}
		rows = append(rows, &repository.DocumentApproval{
			DocumentType: doc.Kind,
			DocumentID:   doc.ID,
			StepOrder:    step.StepOrder,
			RoleName:     step.Role,
			Status:       status,
		})
	}

	if err := s.Approvals.CreateChain(ctx, rows); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Str("rule_id", rule.ID).
		Int("steps", len(rows)).
		Msg("Approval chain initialized")

	return rows, nil
}

// Approve records the actor's approval on the document's single pending
// step. The segregation-of-duties check runs before authorization and before
// any mutation: the creator can never approve their own document, whatever
// roles they hold. Approving the final step flips the document itself to
// approved.
func (e *ApprovalEngine) Approve(ctx context.Context, s repository.Stores, doc *repository.Document, actor Actor, remarks *string) (*StepOutcome, error) {
	step, err := e.pendingStep(ctx, s, doc)
	if err != nil {
		return nil, err
	}

	if doc.CreatedBy == actor.ActorID() {
		return nil, fmt.Errorf("document %s: %w", doc.Number, ErrSelfApprovalForbidden)
	}
	if !actor.HasRole(step.RoleName) {
		return nil, fmt.Errorf("step %d requires role %q: %w", step.StepOrder, step.RoleName, ErrRoleNotHeld)
	}

	now := time.Now()
	if err := s.Approvals.MarkActioned(ctx, step.ID, repository.ApprovalStatusApproved, actor.ActorID(), remarks, now); err != nil {
		return nil, err
	}
	actorID := actor.ActorID()
	step.Status = repository.ApprovalStatusApproved
	step.ApproverID = &actorID
	step.Remarks = remarks
	step.ApprovedAt = &now

	next, err := s.Approvals.FindByStep(ctx, doc.Ref(), step.StepOrder+1)
	if err != nil {
		return nil, err
	}

	if next != nil {
		if err := s.Approvals.SetStatus(ctx, next.ID, repository.ApprovalStatusPending); err != nil {
			return nil, err
		}
		next.Status = repository.ApprovalStatusPending

		e.log.Info().
			Str("document_id", doc.ID).
			Str("doc_number", doc.Number).
			Int("step", step.StepOrder).
			Int("next_step", next.StepOrder).
			Str("approver_id", actorID).
			Msg("Approval step approved, chain advanced")

		return &StepOutcome{Step: step, Next: next}, nil
	}

	// final step: the document itself is approved
	if err := s.Documents.UpdateStatus(ctx, doc.Ref(), repository.DocumentStatusApproved); err != nil {
		return nil, err
	}
	doc.Status = repository.DocumentStatusApproved

	e.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Int("step", step.StepOrder).
		Str("approver_id", actorID).
		Msg("Final approval step approved, document approved")

	return &StepOutcome{Step: step, Final: true}, nil
}

// Reject records the actor's rejection on the pending step and flips the
// document to rejected. Rejection is terminal: later steps stay waiting
// forever. There is no self-rejection bar — withdrawing one's own
// submission is not fraud.
func (e *ApprovalEngine) Reject(ctx context.Context, s repository.Stores, doc *repository.Document, actor Actor, remarks string) (*StepOutcome, error) {
	step, err := e.pendingStep(ctx, s, doc)
	if err != nil {
		return nil, err
	}

	if !actor.HasRole(step.RoleName) {
		return nil, fmt.Errorf("step %d requires role %q: %w", step.StepOrder, step.RoleName, ErrRoleNotHeld)
	}

	now := time.Now()
	remarksPtr := &remarks
	if err := s.Approvals.MarkActioned(ctx, step.ID, repository.ApprovalStatusRejected, actor.ActorID(), remarksPtr, now); err != nil {
		return nil, err
	}
	actorID := actor.ActorID()
	step.Status = repository.ApprovalStatusRejected
	step.ApproverID = &actorID
	step.Remarks = remarksPtr
	step.ApprovedAt = &now

	if err := s.Documents.UpdateStatus(ctx, doc.Ref(), repository.DocumentStatusRejected); err != nil {
		return nil, err
	}
	doc.Status = repository.DocumentStatusRejected

	e.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Int("step", step.StepOrder).
		Str("approver_id", actorID).
		Msg("Approval step rejected, document rejected")

	return &StepOutcome{Step: step, Final: true}, nil
}

// CancelChain marks every open row of the document's chain cancelled. Driven
// by document cancellation, not a chain transition of its own.
func (e *ApprovalEngine) CancelChain(ctx context.Context, s repository.Stores, doc *repository.Document) error {
	return s.Approvals.CancelAll(ctx, doc.Ref())
}

// pendingStep loads the document's unique pending row. More than one pending
// row means the chain is corrupted and the operation must not proceed.
func (e *ApprovalEngine) pendingStep(ctx context.Context, s repository.Stores, doc *repository.Document) (*repository.DocumentApproval, error) {
	pending, err := s.Approvals.FindPending(ctx, doc.Ref())
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("document %s: %w", doc.Number, ErrNoPendingStep)
	}
	if len(pending) > 1 {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("approval chain corrupted: %d pending steps for document %s", len(pending), doc.Number))
	}
	return pending[0], nil
}
