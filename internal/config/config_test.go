package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("HTTP_PORT", "")
	t.Setenv("GRPC_PORT", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Database.Driver)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("HTTP_PORT", "8000")
	t.Setenv("GRPC_PORT", "9000")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Database.Driver)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("GRPC_PORT", "9000")
	_, err = Load()
	assert.Error(t, err)
}

const sampleWorkflow = `
directory:
  users:
    - id: pm
      roles: [PROJECT_MANAGER]
      manager: ceo
    - id: fin-1
      roles: [FINANCE_MANAGER]
templates:
  - id: contract-standard
    name: Standard contract
    entity_type: CONTRACT
    priority: 10
    default: true
    steps:
      - name: PM
        approver: {type: role, role: PROJECT_MANAGER}
        can_delegate: true
      - name: Finance
        approver: {type: fixed, user_id: fin-1}
  - id: contract-large
    entity_type: CONTRACT
    priority: 10
    steps:
      - approver: {type: manager_of_initiator}
      - approver: {type: fixed, user_id: ceo}
  - id: sales-quote
    entity_type: QUOTE
    active: false
    steps:
      - approver: {type: fixed, user_id: pm}
    routing_rules:
      - name: sales
        conditions:
          - {field: department, equals: sales}
          - {field: amount, op: lt, value: 5000}
ladders:
  - entity_type: CONTRACT
    field: amount
    bands:
      - {threshold: 0, template: contract-standard}
      - {threshold: 1000000, template: contract-large}
`

func TestParseWorkflowConfig(t *testing.T) {
	cfg, err := ParseWorkflowConfig([]byte(sampleWorkflow))
	require.NoError(t, err)

	require.Len(t, cfg.Users, 2)
	assert.Equal(t, "ceo", cfg.Users[0].ManagerID)

	require.Len(t, cfg.Templates, 3)
	standard := cfg.Templates[0]
	assert.Equal(t, repository.EntityTypeContract, standard.EntityType)
	assert.True(t, standard.IsActive)
	assert.True(t, standard.IsDefault)
	require.Len(t, standard.Steps, 2)
	assert.Equal(t, 1, standard.Steps[0].StepOrder)
	assert.Equal(t, repository.RoleApprover{Role: "PROJECT_MANAGER"}, standard.Steps[0].Approver)
	assert.Equal(t, 2, standard.Steps[1].StepOrder)
	require.Len(t, standard.RoutingRules, 1)
	assert.Equal(t, []repository.Condition{
		repository.ThresholdRule{Field: "amount", Op: repository.OpGTE, Value: 0},
		repository.ThresholdRule{Field: "amount", Op: repository.OpLT, Value: 1_000_000},
	}, standard.RoutingRules[0].Conditions)

	large := cfg.Templates[1]
	assert.Equal(t, "contract-large", large.Name)
	assert.Equal(t, repository.ManagerOfInitiator{}, large.Steps[0].Approver)

	quote := cfg.Templates[2]
	assert.False(t, quote.IsActive)
	assert.Equal(t, []repository.Condition{
		repository.MatchRule{Field: "department", Value: "sales"},
		repository.ThresholdRule{Field: "amount", Op: repository.OpLT, Value: 5000},
	}, quote.RoutingRules[0].Conditions)
}

func TestParseWorkflowConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "templatez: []",
		"bad approver":      "templates: [{id: a, entity_type: TASK, steps: [{approver: {type: oracle}}]}]",
		"missing id":        "templates: [{name: a, entity_type: TASK}]",
		"duplicate":         "templates: [{id: a, entity_type: TASK}, {id: a, entity_type: TASK}]",
		"empty condition":   "templates: [{id: a, entity_type: TASK, routing_rules: [{conditions: [{field: x}]}]}]",
		"ladder unknown":    "ladders: [{entity_type: TASK, field: amount, bands: [{threshold: 0, template: nope}]}]",
		"ladder wrong type": "templates: [{id: a, entity_type: TASK}]\nladders: [{entity_type: COST, field: amount, bands: [{threshold: 0, template: a}]}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWorkflowConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWorkflowConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o600))

	cfg, err := LoadWorkflowConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Templates, 3)

	_, err = LoadWorkflowConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestShippedWorkflowConfig(t *testing.T) {
	cfg, err := LoadWorkflowConfig(filepath.Join("..", "..", "configs", "workflows.yaml"))
	require.NoError(t, err)

	store := repository.NewMemoryStore()
	for _, tmpl := range cfg.Templates {
		require.NoError(t, service.ValidateTemplate(tmpl), tmpl.ID)
		require.NoError(t, store.SaveTemplate(context.Background(), tmpl))
	}

	resolver := service.NewRoutingResolver(store, logger.Nop())
	for amount, want := range map[float64]string{
		0:         "contract-standard",
		999_999:   "contract-standard",
		1_000_000: "contract-large",
		5_000_000: "contract-large",
	} {
		res, err := resolver.Resolve(context.Background(), repository.EntityTypeContract,
			map[string]interface{}{"amount": amount}, "")
		require.NoError(t, err)
		assert.Equal(t, want, res.Template.ID, "amount %v", amount)
	}
}
