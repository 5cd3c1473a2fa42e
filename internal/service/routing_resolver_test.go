package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func singleStep(id string, entityType repository.EntityType) *repository.WorkflowTemplate {
	return &repository.WorkflowTemplate{
		ID:         id,
		Name:       id,
		EntityType: entityType,
		Steps:      []repository.WorkflowStepDef{{StepOrder: 1, Approver: repository.FixedApprover{UserID: "u"}}},
		IsActive:   true,
	}
}

func newResolver(t *testing.T, templates ...*repository.WorkflowTemplate) *RoutingResolver {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, tmpl := range templates {
		require.NoError(t, store.SaveTemplate(context.Background(), tmpl))
	}
	return NewRoutingResolver(store, logger.Nop())
}

func TestResolveThresholdLadderBoundaries(t *testing.T) {
	small := singleStep("small", repository.EntityTypeContract)
	large := singleStep("large", repository.EntityTypeContract)
	ladder := repository.ThresholdLadder("amount", []repository.ThresholdBand{
		{Threshold: 0, TemplateID: "small"},
		{Threshold: 1_000_000, TemplateID: "large"},
	})
	small.RoutingRules = ladder["small"]
	large.RoutingRules = ladder["large"]
	r := newResolver(t, small, large)

	tests := []struct {
		name   string
		amount interface{}
		want   string
	}{
		{"zero", 0, "small"},
		{"just below", 999_999, "small"},
		{"at threshold", 1_000_000, "large"},
		{"above", 5_000_000.5, "large"},
		{"int64", int64(1_000_000), "large"},
		{"json number", json.Number("999999"), "small"},
		{"numeric string", "1000000", "large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), repository.EntityTypeContract,
				map[string]interface{}{"amount": tt.amount}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Template.ID)
			assert.Equal(t, "rule", res.Source)
		})
	}
}

func TestResolveFirstMatchingRuleWinsByPriority(t *testing.T) {
	low := singleStep("low-priority", repository.EntityTypeContract)
	low.Priority = 20
	low.RoutingRules = []repository.RoutingRule{{Name: "any-sales", Conditions: []repository.Condition{
		repository.MatchRule{Field: "department", Value: "sales"},
	}}}
	high := singleStep("high-priority", repository.EntityTypeContract)
	high.Priority = 10
	high.RoutingRules = []repository.RoutingRule{{Name: "big-sales", Conditions: []repository.Condition{
		repository.MatchRule{Field: "department", Value: "sales"},
		repository.ThresholdRule{Field: "amount", Op: repository.OpGT, Value: 100},
	}}}
	r := newResolver(t, low, high)

	res, err := r.Resolve(context.Background(), repository.EntityTypeContract,
		map[string]interface{}{"department": "sales", "amount": 500}, "")
	require.NoError(t, err)
	assert.Equal(t, "high-priority", res.Template.ID)
	assert.Equal(t, "big-sales", res.RuleName)

	res, err = r.Resolve(context.Background(), repository.EntityTypeContract,
		map[string]interface{}{"department": "sales", "amount": 50}, "")
	require.NoError(t, err)
	assert.Equal(t, "low-priority", res.Template.ID)
}

func TestResolveFallsBackToDefault(t *testing.T) {
	def := singleStep("default", repository.EntityTypeQuote)
	def.IsDefault = true
	special := singleStep("special", repository.EntityTypeQuote)
	special.RoutingRules = []repository.RoutingRule{{Conditions: []repository.Condition{
		repository.ThresholdRule{Field: "amount", Op: repository.OpGTE, Value: 10},
	}}}
	r := newResolver(t, def, special)

	res, err := r.Resolve(context.Background(), repository.EntityTypeQuote, map[string]interface{}{"amount": "n/a"}, "")
	require.NoError(t, err)
	assert.Equal(t, "default", res.Template.ID)
	assert.Equal(t, "default", res.Source)

	res, err = r.Resolve(context.Background(), repository.EntityTypeQuote, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "default", res.Template.ID)
}

func TestResolveRoutingFailure(t *testing.T) {
	inactive := singleStep("inactive", repository.EntityTypeCost)
	inactive.IsActive = false
	inactive.IsDefault = true
	empty := singleStep("empty", repository.EntityTypeTask)
	empty.Steps = nil
	empty.IsDefault = true
	r := newResolver(t, inactive, empty)

	cases := []struct {
		name       string
		entityType repository.EntityType
		explicit   string
	}{
		{"no template for type", repository.EntityTypeContract, ""},
		{"only inactive default", repository.EntityTypeCost, ""},
		{"zero steps", repository.EntityTypeTask, ""},
		{"explicit missing", repository.EntityTypeContract, "nope"},
		{"explicit inactive", repository.EntityTypeCost, "inactive"},
		{"explicit wrong type", repository.EntityTypeContract, "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tc.entityType, nil, tc.explicit)
			assert.True(t, errors.IsCode(err, errors.ErrCodeRoutingFailure), "got %v", err)
		})
	}
}

func TestResolveExplicitTemplate(t *testing.T) {
	def := singleStep("default", repository.EntityTypeContract)
	def.IsDefault = true
	other := singleStep("other", repository.EntityTypeContract)
	r := newResolver(t, def, other)

	res, err := r.Resolve(context.Background(), repository.EntityTypeContract, nil, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", res.Template.ID)
	assert.Equal(t, "explicit", res.Source)
}

func TestConditionMatchesOperators(t *testing.T) {
	params := map[string]interface{}{"amount": 100, "region": "EU", "flag": true}
	cases := []struct {
		cond repository.Condition
		want bool
	}{
		{repository.ThresholdRule{Field: "amount", Op: repository.OpGTE, Value: 100}, true},
		{repository.ThresholdRule{Field: "amount", Op: repository.OpGT, Value: 100}, false},
		{repository.ThresholdRule{Field: "amount", Op: repository.OpLTE, Value: 100}, true},
		{repository.ThresholdRule{Field: "amount", Op: repository.OpLT, Value: 100}, false},
		{repository.ThresholdRule{Field: "amount", Op: repository.OpEQ, Value: 100}, true},
		{repository.ThresholdRule{Field: "amount", Op: repository.OpNE, Value: 100}, false},
		{repository.ThresholdRule{Field: "missing", Op: repository.OpGTE, Value: 0}, false},
		{repository.ThresholdRule{Field: "flag", Op: repository.OpGTE, Value: 0}, false},
		{repository.MatchRule{Field: "region", Value: "EU"}, true},
		{repository.MatchRule{Field: "region", Value: "US"}, false},
		{repository.MatchRule{Field: "amount", Value: "100"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, conditionMatches(tc.cond, params), "%+v", tc.cond)
	}
}

func TestValidateTemplate(t *testing.T) {
	valid := singleStep("ok", repository.EntityTypeContract)
	require.NoError(t, ValidateTemplate(valid))

	unordered := singleStep("unordered", repository.EntityTypeContract)
	unordered.Steps = []repository.WorkflowStepDef{
		{StepOrder: 2, Approver: repository.RoleApprover{Role: "CEO"}},
		{StepOrder: 1, Approver: repository.ManagerOfInitiator{}},
	}
	require.NoError(t, ValidateTemplate(unordered))
	assert.Equal(t, 1, unordered.Steps[0].StepOrder)

	bad := []func(*repository.WorkflowTemplate){
		func(t *repository.WorkflowTemplate) { t.Name = "" },
		func(t *repository.WorkflowTemplate) { t.EntityType = "INVOICE" },
		func(t *repository.WorkflowTemplate) { t.Steps = nil },
		func(t *repository.WorkflowTemplate) { t.Steps[0].StepOrder = 2 },
		func(t *repository.WorkflowTemplate) { t.Steps[0].Approver = nil },
		func(t *repository.WorkflowTemplate) { t.Steps[0].Approver = repository.FixedApprover{} },
		func(t *repository.WorkflowTemplate) {
			t.RoutingRules = []repository.RoutingRule{{Conditions: []repository.Condition{
				repository.ThresholdRule{Field: "amount", Op: "between"},
			}}}
		},
	}
	for i, mutate := range bad {
		tmpl := singleStep("bad", repository.EntityTypeContract)
		mutate(tmpl)
		assert.True(t, errors.IsCode(ValidateTemplate(tmpl), errors.ErrCodeInvalidInput), "case %d", i)
	}
}
