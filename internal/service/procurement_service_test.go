package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

func newTestService(mem *repository.Memory) *ProcurementService {
	log := logger.Nop()
	resolver := NewRuleResolver(log)
	return NewProcurementService(
		mem,
		mem.Stores(),
		NewApprovalEngine(resolver, log),
		NewBudgetLedger(log),
		NewNumberGenerator(log),
		NewRateResolver("IDR", log),
		NopNotifier{},
		log,
	)
}

func requisitionInput(subtotal string) CreateRequisitionInput {
	return CreateRequisitionInput{
		Currency:     "IDR",
		CostCenterID: testCostCenter,
		CreatedBy:    creator.ID,
		Lines: []RequisitionLineInput{
			{
				Description:  "laptops",
				CostCenterID: testCostCenter,
				GLAccountID:  testGLAccount,
				Subtotal:     dec(subtotal),
			},
		},
	}
}

func TestProcurementService_CreateRequisition(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	in := requisitionInput("2000000")
	in.Lines = append(in.Lines, RequisitionLineInput{
		Description:  "docking stations",
		CostCenterID: testCostCenter,
		GLAccountID:  testGLAccount,
		Subtotal:     dec("1000000"),
	})

	doc, err := svc.CreateRequisition(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc.Number, "PR/"), "number = %s", doc.Number)
	assert.Equal(t, repository.DocumentStatusDraft, doc.Status)
	assert.True(t, doc.TotalAmount.Equal(dec("3000000")), "total derived from lines, got %s", doc.TotalAmount)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, 1, doc.Lines[0].LineNumber)
	assert.Equal(t, 2, doc.Lines[1].LineNumber)

	trail, err := svc.AuditTrailFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "created", trail[0].Action)
	assert.Equal(t, creator.ID, trail[0].PerformedBy)
}

func TestProcurementService_CreateRequisition_Validation(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	tests := []struct {
		name   string
		mutate func(*CreateRequisitionInput)
	}{
		{name: "missing creator", mutate: func(in *CreateRequisitionInput) { in.CreatedBy = "" }},
		{name: "missing currency", mutate: func(in *CreateRequisitionInput) { in.Currency = "" }},
		{name: "no lines", mutate: func(in *CreateRequisitionInput) { in.Lines = nil }},
		{name: "zero subtotal", mutate: func(in *CreateRequisitionInput) { in.Lines[0].Subtotal = dec("0") }},
		{name: "missing gl account", mutate: func(in *CreateRequisitionInput) { in.Lines[0].GLAccountID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := requisitionInput("1000")
			tt.mutate(&in)
			_, err := svc.CreateRequisition(context.Background(), in)
			require.Error(t, err)
		})
	}
}

func TestProcurementService_Submit(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("3000000"))
	require.NoError(t, err)

	doc, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusSubmitted, doc.Status)

	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.Equal(dec("3000000")), "pending = %s", bucket.AmountPending)

	chain, err := svc.ChainFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, repository.ApprovalStatusPending, chain[0].Status)
	assert.Equal(t, "manager", chain[0].RoleName)

	queue, err := svc.PendingForRole(context.Background(), "manager")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, doc.ID, queue[0].DocumentID)
}

func TestProcurementService_Submit_InsufficientBudgetRollsBack(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("6000000"))
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.ErrorIs(t, err, ErrInsufficientBudget)

	// nothing from the failed submit may survive
	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.IsZero(), "bucket untouched after rollback")

	stored, err := svc.GetDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusDraft, stored.Status)

	chain, err := svc.ChainFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestProcurementService_Submit_NoRuleRollsBackBudget(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("3000000"))
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.ErrorIs(t, err, ErrNoMatchingRule)

	// the budget lock ran before rule resolution and must be undone
	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.IsZero())
}

func TestProcurementService_Submit_WrongStatus(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("1000000"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.Error(t, err, "submitted document cannot be submitted again")
}

func TestProcurementService_ResubmitAfterRejection(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("1000000"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), doc.Ref(), manager, "wrong vendor")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)

	chain, err := svc.ChainFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, chain, 1, "rejected chain replaced, not appended")
	assert.Equal(t, repository.ApprovalStatusPending, chain[0].Status)

	// rejection released the first hold; only the resubmission's lock remains
	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.Equal(dec("1000000")), "pending = %s", bucket.AmountPending)
}

func TestProcurementService_ApproveAndReject_RequireSubmitted(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("1000000"))
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), doc.Ref(), manager, nil)
	require.Error(t, err)
	_, err = svc.Reject(context.Background(), doc.Ref(), manager, "nope")
	require.Error(t, err)
}

func TestProcurementService_Reject_RequiresReason(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	_, err := svc.Reject(context.Background(), repository.DocumentRef{Kind: repository.KindRequisition, ID: "x"}, manager, "")
	require.Error(t, err)
}

func TestProcurementService_Cancel(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("3000000"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)

	doc, err = svc.Cancel(context.Background(), doc.Ref(), creator, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusCancelled, doc.Status)

	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.IsZero(), "pending hold released on cancel")

	chain, err := svc.ChainFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, repository.ApprovalStatusCancelled, chain[0].Status)
}

func TestProcurementService_ConvertToOrder(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000000", fiscal)
	seedRule(mem, "one-step", "0", "5000000000", 0, "manager")
	mem.SeedRate(&repository.ExchangeRate{
		CurrencyCode: "USD",
		Rate:         dec("15000"),
		ValidFrom:    date(2026, 1, 1),
		CreatedAt:    date(2026, 1, 1),
	})
	svc := newTestService(mem)

	in := requisitionInput("100000")
	in.Currency = "USD"
	doc, err := svc.CreateRequisition(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)
	outcome, err := svc.Approve(context.Background(), doc.Ref(), manager, nil)
	require.NoError(t, err)
	require.True(t, outcome.Final)

	order, err := svc.ConvertToOrder(context.Background(), doc.Ref(), manager)
	require.NoError(t, err)

	assert.Equal(t, repository.KindOrder, order.Kind)
	assert.True(t, strings.HasPrefix(order.Number, "PO/"), "number = %s", order.Number)
	assert.Equal(t, repository.DocumentStatusOpen, order.Status)
	require.NotNil(t, order.SourceID)
	assert.Equal(t, doc.ID, *order.SourceID)
	require.NotNil(t, order.ExchangeRate)
	assert.True(t, order.ExchangeRate.Equal(dec("15000")))
	require.NotNil(t, order.BaseAmount)
	assert.True(t, order.BaseAmount.Equal(dec("1500000000")), "base amount = %s", order.BaseAmount)
	require.Len(t, order.Lines, 1)
	assert.True(t, order.Lines[0].Subtotal.Equal(dec("100000")))

	// requisition hold swapped for the order's firm reservation
	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.IsZero(), "pending = %s", bucket.AmountPending)
	assert.True(t, bucket.AmountReserved.Equal(dec("100000")), "reserved = %s", bucket.AmountReserved)

	stored, err := svc.GetDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusOrdered, stored.Status)

	trail, err := svc.AuditTrailFor(context.Background(), doc.Ref())
	require.NoError(t, err)
	actions := make([]string, len(trail))
	for i, e := range trail {
		actions[i] = e.Action
	}
	assert.Equal(t, []string{"created", "submitted", "approved", "converted"}, actions)
}

func TestProcurementService_ConvertToOrder_RequiresApproved(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	doc, err := svc.CreateRequisition(context.Background(), requisitionInput("1000000"))
	require.NoError(t, err)

	_, err = svc.ConvertToOrder(context.Background(), doc.Ref(), manager)
	require.Error(t, err)
}

func TestProcurementService_ConvertToOrder_NoRateRollsBack(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000000", fiscal)
	seedRule(mem, "one-step", "0", "5000000000", 0, "manager")
	svc := newTestService(mem)

	in := requisitionInput("100000")
	in.Currency = "USD"
	doc, err := svc.CreateRequisition(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), doc.Ref(), creator)
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), doc.Ref(), manager, nil)
	require.NoError(t, err)

	_, err = svc.ConvertToOrder(context.Background(), doc.Ref(), manager)
	require.ErrorIs(t, err, ErrNoRateAvailable)

	// requisition untouched, hold still pending
	stored, err := svc.GetDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusApproved, stored.Status)
	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.Equal(dec("100000")))
}

func TestProcurementService_GenerateNumber(t *testing.T) {
	mem := repository.NewMemory()
	svc := newTestService(mem)

	number, err := svc.GenerateNumber(context.Background(), repository.KindOrder)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(number, "PO/"), "number = %s", number)

	_, err = svc.GenerateNumber(context.Background(), repository.DocumentKind("invoice"))
	require.Error(t, err)
}

func TestProcurementService_Convert(t *testing.T) {
	mem := repository.NewMemory()
	mem.SeedRate(&repository.ExchangeRate{
		CurrencyCode: "USD",
		Rate:         dec("15000"),
		ValidFrom:    date(2026, 1, 1),
		CreatedAt:    date(2026, 1, 1),
	})
	svc := newTestService(mem)

	got, err := svc.Convert(context.Background(), dec("10"), "USD", ConvertToBase, ConvertOptions{})
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("150000")))

	got, err = svc.Convert(context.Background(), dec("150000"), "USD", ConvertFromBase, ConvertOptions{})
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("10")))

	_, err = svc.Convert(context.Background(), dec("1"), "USD", ConvertDirection("sideways"), ConvertOptions{})
	require.Error(t, err)
}
