package handler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// recordingPublisher captures published notification events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []client.NotificationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, data []byte) error {
	var event client.NotificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func (p *recordingPublisher) last() client.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type testEnv struct {
	svc       *service.ApprovalWorkflowService
	publisher *client.NotificationPublisher
	events    *recordingPublisher
	log       *logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	dir := client.NewStaticDirectory([]client.DirectoryEntry{
		{UserID: "fin-1", Roles: []string{"FINANCE_MANAGER"}},
		{UserID: "fin-2", Roles: []string{"FINANCE_MANAGER"}},
		{UserID: "7", ManagerID: "mgr-7"},
	})
	log := logger.Nop()

	svc := service.NewApprovalWorkflowService(
		store,
		service.NewRoutingResolver(store, log),
		service.NewStepEngine(dir),
		service.NewHistoryRecorder(store),
		nil,
		log,
	)
	require.NoError(t, svc.SaveTemplate(context.Background(), contractTemplate()))

	events := &recordingPublisher{}
	return &testEnv{
		svc:       svc,
		publisher: client.NewNotificationPublisher(events, zerolog.Nop()),
		events:    events,
		log:       log,
	}
}

// contractTemplate routes every contract through PM then the finance team.
func contractTemplate() *repository.WorkflowTemplate {
	return &repository.WorkflowTemplate{
		ID:         "contract-standard",
		Name:       "Standard contract",
		EntityType: repository.EntityTypeContract,
		Steps: []repository.WorkflowStepDef{
			{StepOrder: 1, Name: "PM", Approver: repository.FixedApprover{UserID: "pm"}, CanDelegate: true},
			{StepOrder: 2, Name: "Finance", Approver: repository.RoleApprover{Role: "FINANCE_MANAGER"}},
		},
		IsDefault: true,
		IsActive:  true,
	}
}
