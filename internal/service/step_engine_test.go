package service

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(dir Directory) *StepEngine {
	return NewStepEngine(dir).WithClock(func() time.Time { return fixedNow })
}

func startRecord(t *testing.T, e *StepEngine, tmpl *repository.WorkflowTemplate) *repository.ApprovalRecord {
	t.Helper()
	tr, err := e.Start(tmpl, repository.EntityRef{Type: tmpl.EntityType, ID: "42"}, nil, "7", "", nil)
	require.NoError(t, err)
	tr.Record.ID = "rec-1"
	return tr.Record
}

func TestEngineStart(t *testing.T) {
	e := newEngine(newDirectory())
	tmpl := contractTemplate()

	tr, err := e.Start(tmpl, repository.EntityRef{Type: repository.EntityTypeContract, ID: "42"}, nil, "7", "please", map[string]interface{}{"amount": 10})
	require.NoError(t, err)
	assert.Equal(t, repository.StatusPending, tr.Record.Status)
	assert.Equal(t, 1, tr.Record.CurrentStepOrder)
	assert.Equal(t, 2, tr.Record.TotalSteps)
	assert.Equal(t, 1, tr.Record.Version)
	assert.Equal(t, fixedNow, tr.Record.StartedAt)
	assert.Equal(t, repository.ActionSubmit, tr.Entry.Action)
	require.NotNil(t, tr.Entry.Comment)
	assert.Equal(t, "please", *tr.Entry.Comment)

	_, err = e.Start(tmpl, repository.EntityRef{Type: repository.EntityTypeContract, ID: "42"}, tr.Record, "7", "", nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestEngineApproveAdvancesThenCompletes(t *testing.T) {
	e := newEngine(newDirectory())
	tmpl := contractTemplate()
	rec := startRecord(t, e, tmpl)

	tr, err := e.Approve(context.Background(), tmpl, rec, nil, "pm", "")
	require.NoError(t, err)
	assert.Equal(t, 2, tr.Record.CurrentStepOrder)
	assert.Equal(t, repository.StatusPending, tr.Record.Status)
	assert.Equal(t, 2, tr.Record.Version)
	assert.Equal(t, 1, tr.ExpectedVersion)
	assert.Equal(t, 1, tr.Entry.StepOrder)
	assert.Equal(t, 1, rec.CurrentStepOrder, "input record must not be mutated")

	tr, err = e.Approve(context.Background(), tmpl, tr.Record, nil, "finance", "ok")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, tr.Record.Status)
	assert.Equal(t, 2, tr.Record.CurrentStepOrder)
	require.NotNil(t, tr.Record.CompletedAt)
	assert.Equal(t, 2, tr.Entry.StepOrder)
}

func TestEngineGuards(t *testing.T) {
	e := newEngine(newDirectory())
	tmpl := contractTemplate()
	rec := startRecord(t, e, tmpl)
	ctx := context.Background()

	_, err := e.Approve(ctx, tmpl, rec, nil, "finance", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied))

	_, err = e.Reject(ctx, tmpl, rec, nil, "7", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied))

	_, err = e.Withdraw(rec, "pm", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied))

	_, err = e.Delegate(ctx, tmpl, rec, nil, "pm", "", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	_, err = e.Delegate(ctx, tmpl, rec, nil, "pm", "pm", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))

	rejected, err := e.Reject(ctx, tmpl, rec, nil, "pm", "no")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, rejected.Record.Status)
	assert.Equal(t, 1, rejected.Record.CurrentStepOrder)

	done := rejected.Record
	_, err = e.Approve(ctx, tmpl, done, nil, "pm", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	_, err = e.Reject(ctx, tmpl, done, nil, "pm", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	_, err = e.Delegate(ctx, tmpl, done, nil, "pm", "99", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
	_, err = e.Withdraw(done, "7", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestEngineDelegationRequiresCanDelegate(t *testing.T) {
	e := newEngine(newDirectory())
	tmpl := contractTemplate()
	tmpl.Steps[0].CanDelegate = false
	rec := startRecord(t, e, tmpl)

	_, err := e.Delegate(context.Background(), tmpl, rec, nil, "pm", "99", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied))
}

func TestEffectiveApproverFollowsLatestDelegation(t *testing.T) {
	e := newEngine(newDirectory())
	tmpl := contractTemplate()
	rec := startRecord(t, e, tmpl)
	ctx := context.Background()

	to := func(s string) *string { return &s }
	history := []*repository.ApprovalHistory{
		{Seq: 1, StepOrder: 1, Action: repository.ActionSubmit, ActorID: "7"},
		{Seq: 2, StepOrder: 1, Action: repository.ActionDelegate, ActorID: "pm", DelegateToID: to("a")},
		{Seq: 3, StepOrder: 1, Action: repository.ActionDelegate, ActorID: "a", DelegateToID: to("b")},
	}

	ea, err := e.EffectiveApprover(ctx, tmpl, rec, history)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ea.UserIDs)
	assert.True(t, ea.Delegated)

	_, err = e.Approve(ctx, tmpl, rec, history, "pm", "")
	assert.True(t, errors.IsCode(err, errors.ErrCodePermissionDenied), "original approver lost the step")
	_, err = e.Approve(ctx, tmpl, rec, history, "b", "")
	assert.NoError(t, err)

	// A delegation on step 1 does not carry over to step 2.
	advanced := rec.Clone()
	advanced.CurrentStepOrder = 2
	ea, err = e.EffectiveApprover(ctx, tmpl, advanced, history)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance"}, ea.UserIDs)
	assert.False(t, ea.Delegated)
}

func TestEffectiveApproverRules(t *testing.T) {
	dir := newDirectory()
	e := newEngine(dir)
	tmpl := &repository.WorkflowTemplate{
		ID:         "mixed",
		EntityType: repository.EntityTypeCost,
		Steps: []repository.WorkflowStepDef{
			{StepOrder: 1, Approver: repository.RoleApprover{Role: "FINANCE_MANAGER"}},
			{StepOrder: 2, Approver: repository.ManagerOfInitiator{}},
			{StepOrder: 3, Approver: repository.RoleApprover{Role: "NOBODY"}},
		},
	}
	rec := startRecord(t, e, tmpl)
	ctx := context.Background()

	ea, err := e.EffectiveApprover(ctx, tmpl, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1", "fin-2"}, ea.UserIDs)
	assert.Equal(t, "fin-1", ea.Primary())

	tr, err := e.Approve(ctx, tmpl, rec, nil, "fin-2", "")
	require.NoError(t, err, "any role holder may act")

	ea, err = e.EffectiveApprover(ctx, tmpl, tr.Record, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"mgr-7"}, ea.UserIDs)

	tr, err = e.Approve(ctx, tmpl, tr.Record, nil, "mgr-7", "")
	require.NoError(t, err)

	ea, err = e.EffectiveApprover(ctx, tmpl, tr.Record, nil)
	require.NoError(t, err)
	assert.Empty(t, ea.UserIDs)
	assert.Equal(t, "", ea.Primary())

	dir.err = stderrors.New("directory down")
	_, err = e.EffectiveApprover(ctx, tmpl, rec, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
}
