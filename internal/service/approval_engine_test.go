package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

func newEngine() *ApprovalEngine {
	return NewApprovalEngine(NewRuleResolver(logger.Nop()), logger.Nop())
}

func seedSubmittedDoc(t *testing.T, mem *repository.Memory, amount string) *repository.Document {
	t.Helper()
	doc := docWithLine(amount)
	doc.ID = ""
	doc.Status = repository.DocumentStatusSubmitted
	require.NoError(t, mem.Create(context.Background(), doc))
	return doc
}

var (
	creator = StaticActor{ID: "user-1", Roles: []string{"manager"}}
	manager = StaticActor{ID: "user-2", Roles: []string{"manager"}}
	finance = StaticActor{ID: "user-3", Roles: []string{"finance"}}
)

func TestApprovalEngine_InitChain(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	rows, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].StepOrder)
	assert.Equal(t, "manager", rows[0].RoleName)
	assert.Equal(t, repository.ApprovalStatusPending, rows[0].Status)

	assert.Equal(t, 2, rows[1].StepOrder)
	assert.Equal(t, "finance", rows[1].RoleName)
	assert.Equal(t, repository.ApprovalStatusWaiting, rows[1].Status)
}

func TestApprovalEngine_InitChain_NoRule(t *testing.T) {
	mem := repository.NewMemory()
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.ErrorIs(t, err, ErrNoMatchingRule)
}

func TestApprovalEngine_InitChain_SteplessRule(t *testing.T) {
	mem := repository.NewMemory()
	// a row written past the service validation, e.g. straight into the table
	mem.SeedRule(&repository.ApprovalRule{
		RuleName:     "broken",
		DocumentType: repository.KindRequisition,
		IsActive:     true,
		MinAmount:    dec("0"),
		MaxAmount:    dec("10000000"),
		Currency:     "IDR",
	})
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))

	chain, err := mem.Stores().Approvals.ListForDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestApprovalEngine_InitChain_ReplacesPreviousChain(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)
	// reject, then resubmit: old rows must be purged, not appended to
	_, err = engine.Reject(context.Background(), mem.Stores(), doc, manager, "wrong vendor")
	require.NoError(t, err)

	rows, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	chain, err := mem.Stores().Approvals.ListForDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, chain, 2, "chain must be fully replaced")
	assert.Equal(t, repository.ApprovalStatusPending, chain[0].Status)
	assert.Nil(t, chain[0].ApproverID)
}

func TestApprovalEngine_TwoStepApprovalFlow(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	// step 1: manager approves, chain advances, document stays submitted
	outcome, err := engine.Approve(context.Background(), mem.Stores(), doc, manager, nil)
	require.NoError(t, err)
	assert.False(t, outcome.Final)
	assert.Equal(t, repository.ApprovalStatusApproved, outcome.Step.Status)
	require.NotNil(t, outcome.Next)
	assert.Equal(t, 2, outcome.Next.StepOrder)
	assert.Equal(t, repository.ApprovalStatusPending, outcome.Next.Status)
	assert.Equal(t, repository.DocumentStatusSubmitted, doc.Status)
	require.NotNil(t, outcome.Step.ApproverID)
	assert.Equal(t, manager.ID, *outcome.Step.ApproverID)
	assert.NotNil(t, outcome.Step.ApprovedAt)

	// step 2: finance approves, document is fully approved
	outcome, err = engine.Approve(context.Background(), mem.Stores(), doc, finance, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Nil(t, outcome.Next)
	assert.Equal(t, repository.DocumentStatusApproved, doc.Status)

	stored, err := mem.Stores().Documents.Get(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, repository.DocumentStatusApproved, stored.Status)
}

func TestApprovalEngine_Approve_SinglePendingInvariant(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), mem.Stores(), doc, manager, nil)
	require.NoError(t, err)

	pending, err := mem.Stores().Approvals.FindPending(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, pending, 1, "exactly one step may be pending")
	assert.Equal(t, 2, pending[0].StepOrder)
}

func TestApprovalEngine_Approve_SelfApprovalForbidden(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	// creator holds the manager role, but created the document
	_, err = engine.Approve(context.Background(), mem.Stores(), doc, creator, nil)
	require.ErrorIs(t, err, ErrSelfApprovalForbidden)

	pending, err := mem.Stores().Approvals.FindPending(context.Background(), doc.Ref())
	require.NoError(t, err)
	require.Len(t, pending, 1, "step must remain pending")
}

func TestApprovalEngine_Approve_RoleRequired(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	_, err = engine.Approve(context.Background(), mem.Stores(), doc, finance, nil)
	require.ErrorIs(t, err, ErrRoleNotHeld)
	// authenticated but lacking the role is forbidden, not unauthorized
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
}

func TestApprovalEngine_Approve_NoPendingStep(t *testing.T) {
	mem := repository.NewMemory()
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.Approve(context.Background(), mem.Stores(), doc, manager, nil)
	require.ErrorIs(t, err, ErrNoPendingStep)
}

func TestApprovalEngine_Reject(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	outcome, err := engine.Reject(context.Background(), mem.Stores(), doc, manager, "over budget")
	require.NoError(t, err)
	assert.True(t, outcome.Final)
	assert.Equal(t, repository.ApprovalStatusRejected, outcome.Step.Status)
	require.NotNil(t, outcome.Step.Remarks)
	assert.Equal(t, "over budget", *outcome.Step.Remarks)
	assert.Equal(t, repository.DocumentStatusRejected, doc.Status)

	// rejection is terminal: step 2 never becomes pending
	chain, err := mem.Stores().Approvals.ListForDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, repository.ApprovalStatusWaiting, chain[1].Status)

	_, err = engine.Approve(context.Background(), mem.Stores(), doc, finance, nil)
	require.ErrorIs(t, err, ErrNoPendingStep)
}

func TestApprovalEngine_Reject_RoleRequired(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	_, err = engine.Reject(context.Background(), mem.Stores(), doc, finance, "nope")
	require.ErrorIs(t, err, ErrRoleNotHeld)
}

func TestApprovalEngine_CancelChain(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "two-step", "0", "10000000", 0, "manager", "finance")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)
	require.NoError(t, engine.CancelChain(context.Background(), mem.Stores(), doc))

	chain, err := mem.Stores().Approvals.ListForDocument(context.Background(), doc.Ref())
	require.NoError(t, err)
	for _, row := range chain {
		assert.Equal(t, repository.ApprovalStatusCancelled, row.Status)
	}
}

func TestApprovalEngine_RoleSnapshotSurvivesRuleEdit(t *testing.T) {
	mem := repository.NewMemory()
	rule := seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	// edit the rule after the chain exists
	rule.Steps[0].Role = "director"

	pending, err := mem.Stores().Approvals.FindPending(context.Background(), doc.Ref())
	require.NoError(t, err)
	assert.Equal(t, "manager", pending[0].RoleName, "in-flight chain keeps the snapshotted role")

	_, err = engine.Approve(context.Background(), mem.Stores(), doc, manager, nil)
	require.NoError(t, err)
}

func TestApprovalEngine_ApprovedAtIsRecent(t *testing.T) {
	mem := repository.NewMemory()
	seedRule(mem, "one-step", "0", "10000000", 0, "manager")
	engine := newEngine()
	doc := seedSubmittedDoc(t, mem, "3000000")

	_, err := engine.InitChain(context.Background(), mem.Stores(), doc)
	require.NoError(t, err)

	before := time.Now()
	outcome, err := engine.Approve(context.Background(), mem.Stores(), doc, manager, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Step.ApprovedAt)
	assert.WithinDuration(t, before, *outcome.Step.ApprovedAt, time.Second)
}
