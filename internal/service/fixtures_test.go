package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	roles    map[string][]string
	managers map[string]string
	err      error
}

func (d *fakeDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.roles[role], nil
}

func (d *fakeDirectory) ManagerOf(_ context.Context, userID string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	return d.managers[userID], nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		roles: map[string][]string{
			"FINANCE_MANAGER": {"fin-1", "fin-2"},
			"CEO":             {"ceo"},
		},
		managers: map[string]string{"7": "mgr-7"},
	}
}

type fixture struct {
	store   *repository.MemoryStore
	dir     *fakeDirectory
	svc     *ApprovalWorkflowService
	metrics *metrics.Recorder
}

func newFixture(t *testing.T, templates ...*repository.WorkflowTemplate) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	dir := newDirectory()
	log := logger.Nop()
	recorder := metrics.NewRecorder("test")

	svc := NewApprovalWorkflowService(
		store,
		NewRoutingResolver(store, log),
		NewStepEngine(dir),
		NewHistoryRecorder(store),
		recorder,
		log,
	)
	for _, tmpl := range templates {
		require.NoError(t, svc.SaveTemplate(context.Background(), tmpl))
	}
	return &fixture{store: store, dir: dir, svc: svc, metrics: recorder}
}

// contractTemplate is the two-step (PM, Finance) contract workflow.
func contractTemplate() *repository.WorkflowTemplate {
	return &repository.WorkflowTemplate{
		ID:         "contract-standard",
		Name:       "Standard contract",
		EntityType: repository.EntityTypeContract,
		Steps: []repository.WorkflowStepDef{
			{StepOrder: 1, Name: "PM", Approver: repository.FixedApprover{UserID: "pm"}, CanDelegate: true},
			{StepOrder: 2, Name: "Finance", Approver: repository.FixedApprover{UserID: "finance"}, CanDelegate: true},
		},
		IsDefault: true,
		IsActive:  true,
	}
}

func nStepTemplate(id string, n int) *repository.WorkflowTemplate {
	steps := make([]repository.WorkflowStepDef, n)
	for i := range steps {
		steps[i] = repository.WorkflowStepDef{
			StepOrder: i + 1,
			Approver:  repository.FixedApprover{UserID: approverFor(i + 1)},
		}
	}
	return &repository.WorkflowTemplate{
		ID:         id,
		Name:       id,
		EntityType: repository.EntityTypeTask,
		Steps:      steps,
		IsDefault:  true,
		IsActive:   true,
	}
}

func approverFor(step int) string {
	return fmt.Sprintf("approver-%d", step)
}

func actionsOf(history []*repository.ApprovalHistory) []repository.HistoryAction {
	out := make([]repository.HistoryAction, len(history))
	for i, h := range history {
		out[i] = h.Action
	}
	return out
}
