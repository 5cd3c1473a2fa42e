package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Resolution is the outcome of template selection.
type Resolution struct {
	Template *repository.WorkflowTemplate
	// RuleName is the routing rule that matched; empty for explicit or
	// default selection.
	RuleName string
	// Source is one of "explicit", "rule" or "default".
	Source string
}

// RoutingResolver picks the workflow template for a submission.
type RoutingResolver struct {
	templates repository.TemplateRepository
	log       *logger.Logger
}

// NewRoutingResolver creates a new RoutingResolver.
func NewRoutingResolver(templates repository.TemplateRepository, log *logger.Logger) *RoutingResolver {
	return &RoutingResolver{templates: templates, log: log}
}

// Resolve selects a template for entityType. An explicit template ID wins
// when it names an active template of the same entity type. Otherwise the
// routing rules of active templates are evaluated in (priority, name) order
// and the first matching rule decides. With no match the entity type's
// default template is used. Anything else is a RoutingFailure.
func (r *RoutingResolver) Resolve(
	ctx context.Context,
	entityType repository.EntityType,
	params map[string]interface{},
	explicitTemplateID string,
) (*Resolution, error) {
	if explicitTemplateID != "" {
		return r.resolveExplicit(ctx, entityType, explicitTemplateID)
	}

	templates, err := r.templates.ListTemplates(ctx, entityType, true)
	if err != nil {
		return nil, err
	}

	for _, t := range templates {
		for _, rule := range t.RoutingRules {
			if ruleMatches(rule, params) {
				r.log.Debug().
					Str("entity_type", string(entityType)).
					Str("template_id", t.ID).
					Str("rule", rule.Name).
					Msg("Routing rule matched")
				return checkSteps(&Resolution{Template: t, RuleName: rule.Name, Source: "rule"})
			}
		}
	}

	for _, t := range templates {
		if t.IsDefault {
			return checkSteps(&Resolution{Template: t, Source: "default"})
		}
	}

	return nil, errors.RoutingFailure(fmt.Sprintf("no workflow template matches entity type %s", entityType))
}

func (r *RoutingResolver) resolveExplicit(
	ctx context.Context,
	entityType repository.EntityType,
	id string,
) (*Resolution, error) {
	t, err := r.templates.GetTemplate(ctx, id)
	if errors.IsCode(err, errors.ErrCodeNotFound) {
		return nil, errors.RoutingFailure(fmt.Sprintf("workflow template %q does not exist", id))
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, errors.RoutingFailure(fmt.Sprintf("workflow template %q is inactive", id))
	}
	if t.EntityType != entityType {
		return nil, errors.RoutingFailure(fmt.Sprintf(
			"workflow template %q applies to %s, not %s", id, t.EntityType, entityType))
	}
	return checkSteps(&Resolution{Template: t, Source: "explicit"})
}

// checkSteps rejects templates that would produce an empty workflow.
func checkSteps(res *Resolution) (*Resolution, error) {
	if res.Template.TotalSteps() == 0 {
		return nil, errors.RoutingFailure(fmt.Sprintf("workflow template %q has no steps", res.Template.ID))
	}
	return res, nil
}

// ruleMatches ANDs the rule's conditions. A rule without conditions matches
// everything.
func ruleMatches(rule repository.RoutingRule, params map[string]interface{}) bool {
	for _, c := range rule.Conditions {
		if !conditionMatches(c, params) {
			return false
		}
	}
	return true
}

// conditionMatches evaluates one condition. Missing or mistyped params never
// match.
func conditionMatches(c repository.Condition, params map[string]interface{}) bool {
	switch cond := c.(type) {
	case repository.ThresholdRule:
		v, ok := numericParam(params, cond.Field)
		if !ok {
			return false
		}
		switch cond.Op {
		case repository.OpGTE:
			return v >= cond.Value
		case repository.OpGT:
			return v > cond.Value
		case repository.OpLTE:
			return v <= cond.Value
		case repository.OpLT:
			return v < cond.Value
		case repository.OpEQ:
			return v == cond.Value
		case repository.OpNE:
			return v != cond.Value
		}
		return false
	case repository.MatchRule:
		s, ok := params[cond.Field].(string)
		return ok && s == cond.Value
	default:
		return false
	}
}

// numericParam reads params[field] as a float64. JSON-decoded bodies deliver
// float64 or json.Number; Go callers may pass any integer type.
func numericParam(params map[string]interface{}, field string) (float64, bool) {
	raw, ok := params[field]
	if !ok || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// ── Template validation ───────────────────────────────────────────────────────

// ValidateTemplate checks a template before it is stored. Steps are sorted
// by StepOrder and must be numbered 1..N without gaps.
func ValidateTemplate(t *repository.WorkflowTemplate) error {
	if t == nil {
		return errors.InvalidInput("template", "template is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return errors.InvalidInput("name", "template name is required")
	}
	if !t.EntityType.Valid() {
		return errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type %q", t.EntityType))
	}
	if len(t.Steps) == 0 {
		return errors.InvalidInput("steps", "template must define at least one step")
	}

	sort.SliceStable(t.Steps, func(i, j int) bool { return t.Steps[i].StepOrder < t.Steps[j].StepOrder })
	for i, step := range t.Steps {
		if step.StepOrder != i+1 {
			return errors.InvalidInput("steps",
				fmt.Sprintf("step orders must be 1..%d without gaps, found %d at position %d", len(t.Steps), step.StepOrder, i+1))
		}
		if err := validateApprover(step.Approver); err != nil {
			return errors.InvalidInput("steps", fmt.Sprintf("step %d: %s", step.StepOrder, err))
		}
	}

	for _, rule := range t.RoutingRules {
		for _, c := range rule.Conditions {
			if err := validateCondition(c); err != nil {
				return errors.InvalidInput("routing_rules", fmt.Sprintf("rule %q: %s", rule.Name, err))
			}
		}
	}
	return nil
}

func validateApprover(a repository.ApproverRule) error {
	switch rule := a.(type) {
	case repository.FixedApprover:
		if rule.UserID == "" {
			return fmt.Errorf("fixed approver requires a user id")
		}
	case repository.RoleApprover:
		if rule.Role == "" {
			return fmt.Errorf("role approver requires a role")
		}
	case repository.ManagerOfInitiator:
	case nil:
		return fmt.Errorf("approver is required")
	default:
		return fmt.Errorf("unsupported approver %T", a)
	}
	return nil
}

func validateCondition(c repository.Condition) error {
	switch cond := c.(type) {
	case repository.ThresholdRule:
		if cond.Field == "" {
			return fmt.Errorf("threshold condition requires a field")
		}
		if !cond.Op.Valid() {
			return fmt.Errorf("unknown operator %q", cond.Op)
		}
	case repository.MatchRule:
		if cond.Field == "" {
			return fmt.Errorf("match condition requires a field")
		}
	case nil:
		return fmt.Errorf("condition is required")
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
	return nil
}
