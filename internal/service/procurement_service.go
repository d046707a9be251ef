package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// ProcurementService sequences the engines over the document lifecycle. Each
// lifecycle operation runs as one unit of work: budget movement, chain
// mutation, status change and audit entry commit together or not at all.
// Notifications go out only after commit.
type ProcurementService struct {
	tx       repository.TxManager
	stores   repository.Stores // pool-bound, reads outside a transaction
	engine   *ApprovalEngine
	ledger   *BudgetLedger
	numbers  *NumberGenerator
	rates    *RateResolver
	notifier Notifier
	log      *logger.Logger
}

// NewProcurementService creates a ProcurementService.
func NewProcurementService(
	tx repository.TxManager,
	stores repository.Stores,
	engine *ApprovalEngine,
	ledger *BudgetLedger,
	numbers *NumberGenerator,
	rates *RateResolver,
	notifier Notifier,
	log *logger.Logger,
) *ProcurementService {
	return &ProcurementService{
		tx:       tx,
		stores:   stores,
		engine:   engine,
		ledger:   ledger,
		numbers:  numbers,
		rates:    rates,
		notifier: notifier,
		log:      log,
	}
}

// CreateRequisitionInput carries a new draft requisition.
type CreateRequisitionInput struct {
	Currency     string                 `json:"currency"`
	CostCenterID string                 `json:"cost_center_id"`
	CreatedBy    string                 `json:"created_by"`
	Lines        []RequisitionLineInput `json:"lines"`
}

// RequisitionLineInput is one line of a new requisition.
type RequisitionLineInput struct {
	Description  string          `json:"description"`
	CostCenterID string          `json:"cost_center_id"`
	GLAccountID  string          `json:"gl_account_id"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

func (in *CreateRequisitionInput) validate() error {
	if in.CreatedBy == "" {
		return errors.InvalidInput("created_by", "created_by is required")
	}
	if in.Currency == "" {
		return errors.InvalidInput("currency", "currency is required")
	}
	if len(in.Lines) == 0 {
		return errors.InvalidInput("lines", "at least one line is required")
	}
	for i, line := range in.Lines {
		if line.GLAccountID == "" {
			return errors.InvalidInput("lines", fmt.Sprintf("line %d: gl_account_id is required", i+1))
		}
		if line.CostCenterID == "" {
			return errors.InvalidInput("lines", fmt.Sprintf("line %d: cost_center_id is required", i+1))
		}
		if !line.Subtotal.IsPositive() {
			return errors.InvalidInput("lines", fmt.Sprintf("line %d: subtotal must be positive", i+1))
		}
	}
	return nil
}

// CreateRequisition numbers and persists a new draft requisition. The total
// is derived from the lines, never trusted from the caller.
func (p *ProcurementService) CreateRequisition(ctx context.Context, in CreateRequisitionInput) (*repository.Document, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	doc := &repository.Document{
		Kind:         repository.KindRequisition,
		Status:       repository.DocumentStatusDraft,
		Currency:     strings.ToUpper(in.Currency),
		CostCenterID: in.CostCenterID,
		CreatedBy:    in.CreatedBy,
	}
	total := decimal.Zero
	for i, line := range in.Lines {
		total = total.Add(line.Subtotal.Round(amountScale))
		doc.Lines = append(doc.Lines, &repository.DocumentLine{
			LineNumber:   i + 1,
			Description:  line.Description,
			CostCenterID: line.CostCenterID,
			GLAccountID:  line.GLAccountID,
			Subtotal:     line.Subtotal.Round(amountScale),
		})
	}
	doc.TotalAmount = total

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		number, err := p.numbers.Generate(ctx, s.Documents, doc.Kind, time.Now())
		if err != nil {
			return err
		}
		doc.Number = number

		if err := s.Documents.Create(ctx, doc); err != nil {
			return err
		}
		return p.audit(ctx, s, doc, "created", in.CreatedBy, nil, strPtr(doc.Status), nil)
	})
	if err != nil {
		return nil, err
	}

	p.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Str("total_amount", doc.TotalAmount.String()).
		Str("created_by", in.CreatedBy).
		Msg("Requisition created")

	return doc, nil
}

// Submit moves a draft (or previously rejected) document into its approval
// flow: budget check, budget lock, fresh approval chain, status submitted.
// Any failure rolls the whole sequence back.
func (p *ProcurementService) Submit(ctx context.Context, ref repository.DocumentRef, actor Actor) (*repository.Document, error) {
	var (
		doc       *repository.Document
		firstStep *repository.DocumentApproval
	)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		var err error
		doc, err = s.Documents.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status != repository.DocumentStatusDraft && doc.Status != repository.DocumentStatusRejected {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("document %s is %s, only draft or rejected documents can be submitted", doc.Number, doc.Status))
		}
		before := doc.Status

		if err := p.ledger.Check(ctx, s.Budgets, doc); err != nil {
			return err
		}
		if err := p.ledger.Lock(ctx, s.Budgets, doc); err != nil {
			return err
		}

		chain, err := p.engine.InitChain(ctx, s, doc)
		if err != nil {
			return err
		}
		firstStep = chain[0]

		if err := s.Documents.UpdateStatus(ctx, ref, repository.DocumentStatusSubmitted); err != nil {
			return err
		}
		doc.Status = repository.DocumentStatusSubmitted

		return p.audit(ctx, s, doc, "submitted", actor.ActorID(), &before, strPtr(doc.Status), map[string]any{
			"steps": len(chain),
		})
	})
	if err != nil {
		return nil, err
	}

	p.notifier.DocumentSubmitted(ctx, doc, actor.ActorID())
	p.notifier.StepPending(ctx, doc, firstStep)

	p.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Str("actor_id", actor.ActorID()).
		Msg("Document submitted")

	return doc, nil
}

// Approve records the actor's approval on the document's pending step.
func (p *ProcurementService) Approve(ctx context.Context, ref repository.DocumentRef, actor Actor, remarks *string) (*StepOutcome, error) {
	var (
		doc     *repository.Document
		outcome *StepOutcome
	)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		var err error
		doc, err = s.Documents.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status != repository.DocumentStatusSubmitted {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("document %s is %s, only submitted documents can be approved", doc.Number, doc.Status))
		}
		before := doc.Status

		outcome, err = p.engine.Approve(ctx, s, doc, actor, remarks)
		if err != nil {
			return err
		}

		meta := map[string]any{"step_order": outcome.Step.StepOrder, "role": outcome.Step.RoleName}
		var after *string
		if outcome.Final {
			after = strPtr(doc.Status)
		}
		return p.audit(ctx, s, doc, "approved", actor.ActorID(), &before, after, meta)
	})
	if err != nil {
		return nil, err
	}

	if outcome.Final {
		p.notifier.DocumentApproved(ctx, doc, actor.ActorID())
	} else {
		p.notifier.StepPending(ctx, doc, outcome.Next)
	}

	return outcome, nil
}

// Reject records the actor's rejection and terminates the approval flow. The
// pending budget hold is released: a dead chain must not sit on budget, and
// resubmission takes a fresh lock.
func (p *ProcurementService) Reject(ctx context.Context, ref repository.DocumentRef, actor Actor, reason string) (*StepOutcome, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "a rejection reason is required")
	}

	var (
		doc     *repository.Document
		outcome *StepOutcome
	)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		var err error
		doc, err = s.Documents.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status != repository.DocumentStatusSubmitted {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("document %s is %s, only submitted documents can be rejected", doc.Number, doc.Status))
		}
		before := doc.Status

		outcome, err = p.engine.Reject(ctx, s, doc, actor, reason)
		if err != nil {
			return err
		}
		if err := p.ledger.Release(ctx, s.Budgets, doc); err != nil {
			return err
		}

		return p.audit(ctx, s, doc, "rejected", actor.ActorID(), &before, strPtr(doc.Status), map[string]any{
			"step_order": outcome.Step.StepOrder,
			"reason":     reason,
		})
	})
	if err != nil {
		return nil, err
	}

	p.notifier.DocumentRejected(ctx, doc, actor.ActorID(), reason)
	return outcome, nil
}

// Cancel withdraws a submitted document: its pending budget hold is
// released, its open chain rows are cancelled, and the document is closed.
func (p *ProcurementService) Cancel(ctx context.Context, ref repository.DocumentRef, actor Actor, reason string) (*repository.Document, error) {
	var doc *repository.Document

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		var err error
		doc, err = s.Documents.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if doc.Status != repository.DocumentStatusSubmitted {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("document %s is %s, only submitted documents can be cancelled", doc.Number, doc.Status))
		}
		before := doc.Status

		if err := p.ledger.Release(ctx, s.Budgets, doc); err != nil {
			return err
		}
		if err := p.engine.CancelChain(ctx, s, doc); err != nil {
			return err
		}
		if err := s.Documents.UpdateStatus(ctx, ref, repository.DocumentStatusCancelled); err != nil {
			return err
		}
		doc.Status = repository.DocumentStatusCancelled

		return p.audit(ctx, s, doc, "cancelled", actor.ActorID(), &before, strPtr(doc.Status), map[string]any{
			"reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	p.notifier.DocumentCancelled(ctx, doc, actor.ActorID(), reason)

	p.log.Info().
		Str("document_id", doc.ID).
		Str("doc_number", doc.Number).
		Str("actor_id", actor.ActorID()).
		Msg("Document cancelled")

	return doc, nil
}

// ConvertToOrder turns a fully approved requisition into a new purchase
// order. The order snapshots the exchange rate and base amount as of
// conversion, takes over the budget hold as a firm reservation, and records
// its source; the requisition closes as ordered.
func (p *ProcurementService) ConvertToOrder(ctx context.Context, ref repository.DocumentRef, actor Actor) (*repository.Document, error) {
	if ref.Kind != repository.KindRequisition {
		return nil, errors.InvalidInput("kind", "only purchase requisitions can be converted")
	}

	var (
		req   *repository.Document
		order *repository.Document
	)

	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		var err error
		req, err = s.Documents.GetForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if req.Status != repository.DocumentStatusApproved {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("document %s is %s, only approved requisitions can be converted", req.Number, req.Status))
		}

		now := time.Now()
		rate, err := p.rates.Rate(ctx, s.Rates, req.Currency, now)
		if err != nil {
			return err
		}
		baseAmount, err := p.rates.ToBase(ctx, s.Rates, req.TotalAmount, req.Currency, ConvertOptions{ManualRate: &rate})
		if err != nil {
			return err
		}

		number, err := p.numbers.Generate(ctx, s.Documents, repository.KindOrder, now)
		if err != nil {
			return err
		}

		order = &repository.Document{
			Kind:         repository.KindOrder,
			Number:       number,
			Status:       repository.DocumentStatusOpen,
			TotalAmount:  req.TotalAmount,
			Currency:     req.Currency,
			BaseAmount:   &baseAmount,
			ExchangeRate: &rate,
			CostCenterID: req.CostCenterID,
			SourceID:     &req.ID,
			CreatedBy:    actor.ActorID(),
		}
		for _, line := range req.Lines {
			order.Lines = append(order.Lines, &repository.DocumentLine{
				LineNumber:   line.LineNumber,
				Description:  line.Description,
				CostCenterID: line.CostCenterID,
				GLAccountID:  line.GLAccountID,
				Subtotal:     line.Subtotal,
			})
		}
		if err := s.Documents.Create(ctx, order); err != nil {
			return err
		}

		// release the requisition's soft hold, then take the order's firm one
		if err := p.ledger.Release(ctx, s.Budgets, req); err != nil {
			return err
		}
		if err := p.ledger.Commit(ctx, s.Budgets, order); err != nil {
			return err
		}

		before := req.Status
		if err := s.Documents.UpdateStatus(ctx, ref, repository.DocumentStatusOrdered); err != nil {
			return err
		}
		req.Status = repository.DocumentStatusOrdered

		if err := p.audit(ctx, s, req, "converted", actor.ActorID(), &before, strPtr(req.Status), map[string]any{
			"order_id":     order.ID,
			"order_number": order.Number,
		}); err != nil {
			return err
		}
		return p.audit(ctx, s, order, "created", actor.ActorID(), nil, strPtr(order.Status), map[string]any{
			"source_id":     req.ID,
			"source_number": req.Number,
			"exchange_rate": rate.String(),
			"base_amount":   baseAmount.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	p.notifier.DocumentConverted(ctx, req, order, actor.ActorID())

	p.log.Info().
		Str("requisition_id", req.ID).
		Str("requisition_number", req.Number).
		Str("order_id", order.ID).
		Str("order_number", order.Number).
		Str("actor_id", actor.ActorID()).
		Msg("Requisition converted to order")

	return order, nil
}

// ConvertDirection selects which way Convert moves an amount.
type ConvertDirection string

const (
	ConvertToBase   ConvertDirection = "to_base"
	ConvertFromBase ConvertDirection = "from_base"
)

// Convert converts a free-standing amount between a currency and the base
// currency, outside any document.
func (p *ProcurementService) Convert(ctx context.Context, amount decimal.Decimal, currency string, direction ConvertDirection, opts ConvertOptions) (decimal.Decimal, error) {
	switch direction {
	case ConvertToBase:
		return p.rates.ToBase(ctx, p.stores.Rates, amount, currency, opts)
	case ConvertFromBase:
		return p.rates.FromBase(ctx, p.stores.Rates, amount, currency, opts)
	default:
		return decimal.Zero, errors.InvalidInput("direction", fmt.Sprintf("unknown conversion direction %q", direction))
	}
}

// RecordRate appends a new exchange rate row.
func (p *ProcurementService) RecordRate(ctx context.Context, currency string, rate decimal.Decimal, validFrom time.Time, createdBy string) (*repository.ExchangeRate, error) {
	if !rate.IsPositive() {
		return nil, errors.InvalidInput("rate", "rate must be positive")
	}
	return p.rates.RecordRate(ctx, p.stores.Rates, currency, rate, validFrom, createdBy)
}

// GenerateNumber returns the next document number for a kind in the current
// period. The number is not burned: it is only taken once a document is
// created with it in the same period.
func (p *ProcurementService) GenerateNumber(ctx context.Context, kind repository.DocumentKind) (string, error) {
	if !kind.Valid() {
		return "", errors.InvalidInput("kind", fmt.Sprintf("unknown document kind %q", kind))
	}
	var number string
	err := p.tx.InTransaction(ctx, func(s repository.Stores) error {
		n, err := p.numbers.Generate(ctx, s.Documents, kind, time.Now())
		number = n
		return err
	})
	return number, err
}

// GetDocument loads a document with its lines.
func (p *ProcurementService) GetDocument(ctx context.Context, ref repository.DocumentRef) (*repository.Document, error) {
	return p.stores.Documents.Get(ctx, ref)
}

// ChainFor returns a document's full approval chain in step order.
func (p *ProcurementService) ChainFor(ctx context.Context, ref repository.DocumentRef) ([]*repository.DocumentApproval, error) {
	return p.stores.Approvals.ListForDocument(ctx, ref)
}

// PendingForRole returns the approval steps currently waiting on holders of
// the given role. This is the approver's work queue.
func (p *ProcurementService) PendingForRole(ctx context.Context, role string) ([]*repository.DocumentApproval, error) {
	if role == "" {
		return nil, errors.InvalidInput("role", "role is required")
	}
	return p.stores.Approvals.ListPendingForRole(ctx, role)
}

// AuditTrailFor returns a document's audit log, oldest first.
func (p *ProcurementService) AuditTrailFor(ctx context.Context, ref repository.DocumentRef) ([]*repository.AuditEntry, error) {
	return p.stores.Audit.TrailForDocument(ctx, ref)
}

func (p *ProcurementService) audit(ctx context.Context, s repository.Stores, doc *repository.Document, action, actorID string, before, after *string, metadata map[string]any) error {
	return s.Audit.Append(ctx, &repository.AuditEntry{
		DocumentType: doc.Kind,
		DocumentID:   doc.ID,
		Action:       action,
		PerformedBy:  actorID,
		PerformedAt:  time.Now(),
		StatusBefore: before,
		StatusAfter:  after,
		Metadata:     metadata,
	})
}

func strPtr(s string) *string {
	return &s
}
