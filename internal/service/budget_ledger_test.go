package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

const (
	testCostCenter = "cc-ops"
	testGLAccount  = "gl-5100"
)

func seedBucket(mem *repository.Memory, allocated string, fiscalYear int) *repository.BudgetBucket {
	return mem.SeedBucket(&repository.BudgetBucket{
		CostCenterID:    testCostCenter,
		GLAccountID:     testGLAccount,
		FiscalYear:      fiscalYear,
		AmountAllocated: dec(allocated),
		AmountPending:   decimal.Zero,
		AmountReserved:  decimal.Zero,
		AmountUsed:      decimal.Zero,
	})
}

func docWithLine(subtotal string) *repository.Document {
	return &repository.Document{
		ID:          "doc-1",
		Kind:        repository.KindRequisition,
		Number:      "PR/2026/02/0001",
		Status:      repository.DocumentStatusDraft,
		TotalAmount: dec(subtotal),
		Currency:    "IDR",
		CreatedBy:   "user-1",
		CreatedAt:   time.Now(),
		Lines: []*repository.DocumentLine{
			{
				LineNumber:   1,
				Description:  "laptops",
				CostCenterID: testCostCenter,
				GLAccountID:  testGLAccount,
				Subtotal:     dec(subtotal),
			},
		},
	}
}

func TestBudgetLedger_CheckAndLock(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	ledger := NewBudgetLedger(logger.Nop())
	doc := docWithLine("3000000")

	require.NoError(t, ledger.Check(context.Background(), mem.Stores().Budgets, doc))
	require.NoError(t, ledger.Lock(context.Background(), mem.Stores().Budgets, doc))

	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	require.NotNil(t, bucket)
	assert.True(t, bucket.AmountPending.Equal(dec("3000000")), "pending = %s", bucket.AmountPending)
	assert.True(t, bucket.Available().Equal(dec("2000000")), "available = %s", bucket.Available())
}

func TestBudgetLedger_Check_InsufficientBudget(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	ledger := NewBudgetLedger(logger.Nop())

	err := ledger.Check(context.Background(), mem.Stores().Budgets, docWithLine("6000000"))
	require.ErrorIs(t, err, ErrInsufficientBudget)

	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountPending.IsZero(), "check must not mutate the bucket")
}

func TestBudgetLedger_Check_MissingBucket(t *testing.T) {
	mem := repository.NewMemory()
	ledger := NewBudgetLedger(logger.Nop())

	err := ledger.Check(context.Background(), mem.Stores().Budgets, docWithLine("100"))
	require.ErrorIs(t, err, ErrBudgetBucketNotFound)
}

func TestBudgetLedger_Check_CountsExistingHolds(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	bucket := seedBucket(mem, "5000000", fiscal)
	bucket.AmountPending = dec("2000000")
	bucket.AmountReserved = dec("1500000")
	bucket.AmountUsed = dec("1000000")
	ledger := NewBudgetLedger(logger.Nop())

	// available is 500_000
	require.NoError(t, ledger.Check(context.Background(), mem.Stores().Budgets, docWithLine("500000")))
	require.ErrorIs(t, ledger.Check(context.Background(), mem.Stores().Budgets, docWithLine("500001")), ErrInsufficientBudget)
}

func TestBudgetLedger_Release(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	bucket := seedBucket(mem, "5000000", fiscal)
	bucket.AmountPending = dec("3000000")
	ledger := NewBudgetLedger(logger.Nop())

	require.NoError(t, ledger.Release(context.Background(), mem.Stores().Budgets, docWithLine("3000000")))
	assert.True(t, mem.Bucket(testCostCenter, testGLAccount, fiscal).AmountPending.IsZero())
}

func TestBudgetLedger_Release_FlooredAtCurrentPending(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	bucket := seedBucket(mem, "5000000", fiscal)
	bucket.AmountPending = dec("1000000")
	ledger := NewBudgetLedger(logger.Nop())

	// releasing more than is pending must never drive pending negative
	require.NoError(t, ledger.Release(context.Background(), mem.Stores().Budgets, docWithLine("3000000")))
	assert.True(t, mem.Bucket(testCostCenter, testGLAccount, fiscal).AmountPending.IsZero())
}

func TestBudgetLedger_Commit(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	ledger := NewBudgetLedger(logger.Nop())

	require.NoError(t, ledger.Commit(context.Background(), mem.Stores().Budgets, docWithLine("3000000")))

	bucket := mem.Bucket(testCostCenter, testGLAccount, fiscal)
	assert.True(t, bucket.AmountReserved.Equal(dec("3000000")), "reserved = %s", bucket.AmountReserved)
	assert.True(t, bucket.AmountPending.IsZero())
}

func TestBudgetLedger_Commit_RechecksAvailability(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	bucket := seedBucket(mem, "5000000", fiscal)
	bucket.AmountUsed = dec("4000000")
	ledger := NewBudgetLedger(logger.Nop())

	err := ledger.Commit(context.Background(), mem.Stores().Budgets, docWithLine("3000000"))
	require.ErrorIs(t, err, ErrInsufficientBudget)
	assert.True(t, mem.Bucket(testCostCenter, testGLAccount, fiscal).AmountReserved.IsZero())
}

func TestBudgetLedger_MultiLineDocument(t *testing.T) {
	mem := repository.NewMemory()
	fiscal := time.Now().Year()
	seedBucket(mem, "5000000", fiscal)
	other := mem.SeedBucket(&repository.BudgetBucket{
		CostCenterID:    "cc-it",
		GLAccountID:     "gl-5200",
		FiscalYear:      fiscal,
		AmountAllocated: dec("1000000"),
	})
	ledger := NewBudgetLedger(logger.Nop())

	doc := docWithLine("2000000")
	doc.Lines = append(doc.Lines, &repository.DocumentLine{
		LineNumber:   2,
		Description:  "monitors",
		CostCenterID: "cc-it",
		GLAccountID:  "gl-5200",
		Subtotal:     dec("800000"),
	})

	require.NoError(t, ledger.Check(context.Background(), mem.Stores().Budgets, doc))
	require.NoError(t, ledger.Lock(context.Background(), mem.Stores().Budgets, doc))

	assert.True(t, mem.Bucket(testCostCenter, testGLAccount, fiscal).AmountPending.Equal(dec("2000000")))
	assert.True(t, mem.Bucket(other.CostCenterID, other.GLAccountID, fiscal).AmountPending.Equal(dec("800000")))
}
