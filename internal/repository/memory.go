package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-procurement/internal/errors"
)

// Memory is an in-memory implementation of every store interface plus
// TxManager, used by the engine tests. InTransaction serializes callers on
// one mutex (standing in for row locks) and restores a pre-transaction
// snapshot when the unit of work fails, so rollback semantics are testable
// without Postgres. Individual store methods are not independently
// goroutine-safe; concurrent tests must go through InTransaction.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	rules     []*ApprovalRule
	approvals []*DocumentApproval
	buckets   []*BudgetBucket
	documents []*Document
	rates     []*ExchangeRate
	audit     []*AuditEntry
}

// NewMemory creates an empty in-memory store set.
func NewMemory() *Memory {
	return &Memory{}
}

// Stores returns the store bundle backed by this Memory.
func (m *Memory) Stores() Stores {
	return Stores{
		Rules:     m,
		Approvals: m,
		Budgets:   m,
		Documents: m,
		Rates:     m,
		Audit:     m,
	}
}

// InTransaction serializes the unit of work and rolls the state back when fn
// fails.
func (m *Memory) InTransaction(ctx context.Context, fn func(s Stores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.Stores()); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// ── seeding helpers for tests ────────────────────────────────────────────────

// SeedRule registers an approval rule.
func (m *Memory) SeedRule(rule *ApprovalRule) *ApprovalRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	m.state.rules = append(m.state.rules, rule)
	return rule
}

// SeedBucket registers a budget bucket.
func (m *Memory) SeedBucket(b *BudgetBucket) *BudgetBucket {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	m.state.buckets = append(m.state.buckets, b)
	return b
}

// SeedRate registers an exchange rate row.
func (m *Memory) SeedRate(r *ExchangeRate) *ExchangeRate {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.state.rates = append(m.state.rates, r)
	return r
}

// Bucket returns a copy of the bucket for assertions, or nil.
func (m *Memory) Bucket(costCenterID, glAccountID string, fiscalYear int) *BudgetBucket {
	for _, b := range m.state.buckets {
		if b.CostCenterID == costCenterID && b.GLAccountID == glAccountID && b.FiscalYear == fiscalYear {
			c := *b
			return &c
		}
	}
	return nil
}

// ── RuleStore ────────────────────────────────────────────────────────────────

func (m *Memory) CreateRule(_ context.Context, rule *ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.state.rules = append(m.state.rules, rule)
	return nil
}

func (m *Memory) UpdateRule(_ context.Context, rule *ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	for i, r := range m.state.rules {
		if r.ID == rule.ID {
			rule.CreatedAt = r.CreatedAt
			rule.UpdatedAt = time.Now()
			m.state.rules[i] = rule
			return nil
		}
	}
	return errors.NotFound("approval_rule", rule.ID)
}

func (m *Memory) RuleByID(_ context.Context, id string) (*ApprovalRule, error) {
	for _, r := range m.state.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, errors.NotFound("approval_rule", id)
}

func (m *Memory) ActiveRulesByType(_ context.Context, kind DocumentKind) ([]*ApprovalRule, error) {
	var out []*ApprovalRule
	for _, r := range m.state.rules {
		if r.DocumentType == kind && r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ── ApprovalStore ────────────────────────────────────────────────────────────

func (m *Memory) DeleteForDocument(_ context.Context, ref DocumentRef) error {
	kept := m.state.approvals[:0]
	for _, a := range m.state.approvals {
		if !(a.DocumentType == ref.Kind && a.DocumentID == ref.ID) {
			kept = append(kept, a)
		}
	}
	m.state.approvals = kept
	return nil
}

func (m *Memory) CreateChain(_ context.Context, rows []*DocumentApproval) error {
	now := time.Now()
	for _, row := range rows {
		row.ID = uuid.NewString()
		row.CreatedAt = now
		row.UpdatedAt = now
		m.state.approvals = append(m.state.approvals, row)
	}
	return nil
}

func (m *Memory) FindPending(_ context.Context, ref DocumentRef) ([]*DocumentApproval, error) {
	var out []*DocumentApproval
	for _, a := range m.state.approvals {
		if a.DocumentType == ref.Kind && a.DocumentID == ref.ID && a.Status == ApprovalStatusPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (m *Memory) FindByStep(_ context.Context, ref DocumentRef, stepOrder int) (*DocumentApproval, error) {
	for _, a := range m.state.approvals {
		if a.DocumentType == ref.Kind && a.DocumentID == ref.ID && a.StepOrder == stepOrder {
			return a, nil
		}
	}
	return nil, nil
}

func (m *Memory) MarkActioned(_ context.Context, id, status, approverID string, remarks *string, at time.Time) error {
	for _, a := range m.state.approvals {
		if a.ID == id {
			a.Status = status
			a.ApproverID = &approverID
			a.Remarks = remarks
			a.ApprovedAt = &at
			a.UpdatedAt = at
			return nil
		}
	}
	return errors.NotFound("document_approval", id)
}

func (m *Memory) SetStatus(_ context.Context, id, status string) error {
	for _, a := range m.state.approvals {
		if a.ID == id {
			a.Status = status
			a.UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.NotFound("document_approval", id)
}

func (m *Memory) CancelAll(_ context.Context, ref DocumentRef) error {
	for _, a := range m.state.approvals {
		if a.DocumentType == ref.Kind && a.DocumentID == ref.ID &&
			(a.Status == ApprovalStatusWaiting || a.Status == ApprovalStatusPending) {
			a.Status = ApprovalStatusCancelled
		}
	}
	return nil
}

func (m *Memory) ListForDocument(_ context.Context, ref DocumentRef) ([]*DocumentApproval, error) {
	var out []*DocumentApproval
	for _, a := range m.state.approvals {
		if a.DocumentType == ref.Kind && a.DocumentID == ref.ID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (m *Memory) ListPendingForRole(_ context.Context, role string) ([]*DocumentApproval, error) {
	var out []*DocumentApproval
	for _, a := range m.state.approvals {
		if a.RoleName == role && a.Status == ApprovalStatusPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ── BudgetStore ──────────────────────────────────────────────────────────────

func (m *Memory) CreateBucket(_ context.Context, b *BudgetBucket) error {
	if b.AmountAllocated.IsNegative() {
		return errors.InvalidInput("amount_allocated", "allocation cannot be negative")
	}
	for _, existing := range m.state.buckets {
		if existing.CostCenterID == b.CostCenterID && existing.GLAccountID == b.GLAccountID && existing.FiscalYear == b.FiscalYear {
			return errors.New(errors.ErrCodeConflict, "budget bucket already exists")
		}
	}
	b.ID = uuid.NewString()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.state.buckets = append(m.state.buckets, b)
	return nil
}

func (m *Memory) GetBucket(_ context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error) {
	for _, b := range m.state.buckets {
		if b.CostCenterID == costCenterID && b.GLAccountID == glAccountID && b.FiscalYear == fiscalYear {
			return b, nil
		}
	}
	return nil, errors.NotFound("budget_bucket", costCenterID+"/"+glAccountID)
}

func (m *Memory) BucketForUpdate(_ context.Context, costCenterID, glAccountID string, fiscalYear int) (*BudgetBucket, error) {
	for _, b := range m.state.buckets {
		if b.CostCenterID == costCenterID && b.GLAccountID == glAccountID && b.FiscalYear == fiscalYear {
			return b, nil
		}
	}
	return nil, nil
}

func (m *Memory) ApplyDelta(_ context.Context, id string, pending, reserved, used decimal.Decimal) error {
	for _, b := range m.state.buckets {
		if b.ID == id {
			b.AmountPending = b.AmountPending.Add(pending)
			b.AmountReserved = b.AmountReserved.Add(reserved)
			b.AmountUsed = b.AmountUsed.Add(used)
			b.UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.NotFound("budget_bucket", id)
}

// ── DocumentStore ────────────────────────────────────────────────────────────

func (m *Memory) Get(_ context.Context, ref DocumentRef) (*Document, error) {
	for _, d := range m.state.documents {
		if d.Kind == ref.Kind && d.ID == ref.ID {
			return d, nil
		}
	}
	return nil, errors.NotFound("document", ref.ID)
}

func (m *Memory) GetForUpdate(ctx context.Context, ref DocumentRef) (*Document, error) {
	return m.Get(ctx, ref)
}

func (m *Memory) Create(_ context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.UpdatedAt = doc.CreatedAt
	for _, line := range doc.Lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		line.DocumentID = doc.ID
	}
	m.state.documents = append(m.state.documents, doc)
	return nil
}

func (m *Memory) UpdateStatus(_ context.Context, ref DocumentRef, status string) error {
	for _, d := range m.state.documents {
		if d.Kind == ref.Kind && d.ID == ref.ID {
			d.Status = status
			d.UpdatedAt = time.Now()
			return nil
		}
	}
	return errors.NotFound("document", ref.ID)
}

func (m *Memory) LastNumberForPrefix(_ context.Context, kind DocumentKind, prefix string) (string, error) {
	last := ""
	for _, d := range m.state.documents {
		if d.Kind == kind && strings.HasPrefix(d.Number, prefix+"/") && d.Number > last {
			last = d.Number
		}
	}
	return last, nil
}

// ── RateStore ────────────────────────────────────────────────────────────────

func (m *Memory) LatestBefore(_ context.Context, currencyCode string, asOf time.Time) (*ExchangeRate, error) {
	var best *ExchangeRate
	for _, r := range m.state.rates {
		if r.CurrencyCode != currencyCode || r.ValidFrom.After(asOf) {
			continue
		}
		if best == nil ||
			r.ValidFrom.After(best.ValidFrom) ||
			(r.ValidFrom.Equal(best.ValidFrom) && r.CreatedAt.After(best.CreatedAt)) {
			best = r
		}
	}
	return best, nil
}

func (m *Memory) Insert(_ context.Context, rate *ExchangeRate) error {
	rate.ID = uuid.NewString()
	if rate.CreatedAt.IsZero() {
		rate.CreatedAt = time.Now()
	}
	m.state.rates = append(m.state.rates, rate)
	return nil
}

// ── AuditStore ───────────────────────────────────────────────────────────────

func (m *Memory) Append(_ context.Context, entry *AuditEntry) error {
	entry.ID = uuid.NewString()
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now()
	}
	m.state.audit = append(m.state.audit, entry)
	return nil
}

func (m *Memory) TrailForDocument(_ context.Context, ref DocumentRef) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for _, e := range m.state.audit {
		if e.DocumentType == ref.Kind && e.DocumentID == ref.ID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── snapshot / rollback ──────────────────────────────────────────────────────

func (s memState) clone() memState {
	out := memState{
		rules:     make([]*ApprovalRule, len(s.rules)),
		approvals: make([]*DocumentApproval, len(s.approvals)),
		buckets:   make([]*BudgetBucket, len(s.buckets)),
		documents: make([]*Document, len(s.documents)),
		rates:     make([]*ExchangeRate, len(s.rates)),
		audit:     make([]*AuditEntry, len(s.audit)),
	}
	for i, r := range s.rules {
		c := *r
		c.Steps = append([]RuleStep(nil), r.Steps...)
		out.rules[i] = &c
	}
	for i, a := range s.approvals {
		c := *a
		out.approvals[i] = &c
	}
	for i, b := range s.buckets {
		c := *b
		out.buckets[i] = &c
	}
	for i, d := range s.documents {
		c := *d
		c.Lines = make([]*DocumentLine, len(d.Lines))
		for j, line := range d.Lines {
			lc := *line
			c.Lines[j] = &lc
		}
		out.documents[i] = &c
	}
	for i, r := range s.rates {
		c := *r
		out.rates[i] = &c
	}
	for i, e := range s.audit {
		c := *e
		out.audit[i] = &c
	}
	return out
}
