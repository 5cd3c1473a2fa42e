package repository

import (
	"encoding/json"
	"fmt"
	"time"
)

// ── JSON shapes for JSONB columns ────────────────────────────────────────────

type approverJSON struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
}

type stepJSON struct {
	StepOrder   int          `json:"step_order"`
	Name        string       `json:"name,omitempty"`
	Approver    approverJSON `json:"approver"`
	CanDelegate bool         `json:"can_delegate"`
	IsOptional  bool         `json:"is_optional"`
}

type conditionJSON struct {
	Type  string          `json:"type"`
	Field string          `json:"field"`
	Op    CompareOp       `json:"op,omitempty"`
	Value json.RawMessage `json:"value"`
}

type ruleJSON struct {
	Name       string          `json:"name,omitempty"`
	Conditions []conditionJSON `json:"conditions"`
}

// EncodeApprover converts an approver rule to its kind/user/role triple.
func EncodeApprover(rule ApproverRule) (kind, userID, role string, err error) {
	switch a := rule.(type) {
	case FixedApprover:
		return a.Kind(), a.UserID, "", nil
	case RoleApprover:
		return a.Kind(), "", a.Role, nil
	case ManagerOfInitiator:
		return a.Kind(), "", "", nil
	case nil:
		return "", "", "", fmt.Errorf("approver rule is required")
	default:
		return "", "", "", fmt.Errorf("unsupported approver rule %T", rule)
	}
}

// DecodeApprover builds an approver rule from its kind/user/role triple.
func DecodeApprover(kind, userID, role string) (ApproverRule, error) {
	switch kind {
	case "fixed":
		if userID == "" {
			return nil, fmt.Errorf("fixed approver requires user_id")
		}
		return FixedApprover{UserID: userID}, nil
	case "role":
		if role == "" {
			return nil, fmt.Errorf("role approver requires role")
		}
		return RoleApprover{Role: role}, nil
	case "manager_of_initiator":
		return ManagerOfInitiator{}, nil
	default:
		return nil, fmt.Errorf("unknown approver type %q", kind)
	}
}

// MarshalSteps encodes step definitions for storage.
func MarshalSteps(steps []WorkflowStepDef) ([]byte, error) {
	out, err := stepsToJSON(steps)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalSteps decodes stored step definitions.
func UnmarshalSteps(data []byte) ([]WorkflowStepDef, error) {
	var in []stepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return stepsFromJSON(in)
}

// MarshalRoutingRules encodes routing rules for storage.
func MarshalRoutingRules(rules []RoutingRule) ([]byte, error) {
	out, err := rulesToJSON(rules)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalRoutingRules decodes stored routing rules.
func UnmarshalRoutingRules(data []byte) ([]RoutingRule, error) {
	var in []ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return rulesFromJSON(in)
}

// ── Template document ────────────────────────────────────────────────────────

type templateJSON struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	EntityType   EntityType `json:"entity_type"`
	Steps        []stepJSON `json:"steps"`
	RoutingRules []ruleJSON `json:"routing_rules"`
	Priority     int        `json:"priority"`
	IsDefault    bool       `json:"is_default"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// MarshalJSON encodes the template with its tagged variants spelled out.
func (t WorkflowTemplate) MarshalJSON() ([]byte, error) {
	steps, err := stepsToJSON(t.Steps)
	if err != nil {
		return nil, err
	}
	rules, err := rulesToJSON(t.RoutingRules)
	if err != nil {
		return nil, err
	}
	return json.Marshal(templateJSON{
		ID:           t.ID,
		Name:         t.Name,
		EntityType:   t.EntityType,
		Steps:        steps,
		RoutingRules: rules,
		Priority:     t.Priority,
		IsDefault:    t.IsDefault,
		IsActive:     t.IsActive,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	})
}

// UnmarshalJSON decodes a template document.
func (t *WorkflowTemplate) UnmarshalJSON(data []byte) error {
	var in templateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	steps, err := stepsFromJSON(in.Steps)
	if err != nil {
		return err
	}
	rules, err := rulesFromJSON(in.RoutingRules)
	if err != nil {
		return err
	}
	*t = WorkflowTemplate{
		ID:           in.ID,
		Name:         in.Name,
		EntityType:   in.EntityType,
		Steps:        steps,
		RoutingRules: rules,
		Priority:     in.Priority,
		IsDefault:    in.IsDefault,
		IsActive:     in.IsActive,
		CreatedAt:    in.CreatedAt,
		UpdatedAt:    in.UpdatedAt,
	}
	return nil
}

// ── shape converters ─────────────────────────────────────────────────────────

func stepsToJSON(steps []WorkflowStepDef) ([]stepJSON, error) {
	out := make([]stepJSON, 0, len(steps))
	for _, s := range steps {
		kind, userID, role, err := EncodeApprover(s.Approver)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", s.StepOrder, err)
		}
		out = append(out, stepJSON{
			StepOrder:   s.StepOrder,
			Name:        s.Name,
			Approver:    approverJSON{Type: kind, UserID: userID, Role: role},
			CanDelegate: s.CanDelegate,
			IsOptional:  s.IsOptional,
		})
	}
	return out, nil
}

func stepsFromJSON(in []stepJSON) ([]WorkflowStepDef, error) {
	steps := make([]WorkflowStepDef, 0, len(in))
	for _, s := range in {
		approver, err := DecodeApprover(s.Approver.Type, s.Approver.UserID, s.Approver.Role)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", s.StepOrder, err)
		}
		steps = append(steps, WorkflowStepDef{
			StepOrder:   s.StepOrder,
			Name:        s.Name,
			Approver:    approver,
			CanDelegate: s.CanDelegate,
			IsOptional:  s.IsOptional,
		})
	}
	return steps, nil
}

func rulesToJSON(rules []RoutingRule) ([]ruleJSON, error) {
	out := make([]ruleJSON, 0, len(rules))
	for _, r := range rules {
		rj := ruleJSON{Name: r.Name, Conditions: make([]conditionJSON, 0, len(r.Conditions))}
		for _, c := range r.Conditions {
			var (
				cj  conditionJSON
				err error
			)
			switch cond := c.(type) {
			case ThresholdRule:
				cj = conditionJSON{Type: cond.Kind(), Field: cond.Field, Op: cond.Op}
				cj.Value, err = json.Marshal(cond.Value)
			case MatchRule:
				cj = conditionJSON{Type: cond.Kind(), Field: cond.Field}
				cj.Value, err = json.Marshal(cond.Value)
			default:
				return nil, fmt.Errorf("rule %q: unsupported condition %T", r.Name, c)
			}
			if err != nil {
				return nil, err
			}
			rj.Conditions = append(rj.Conditions, cj)
		}
		out = append(out, rj)
	}
	return out, nil
}

func rulesFromJSON(in []ruleJSON) ([]RoutingRule, error) {
	rules := make([]RoutingRule, 0, len(in))
	for _, rj := range in {
		rule := RoutingRule{Name: rj.Name, Conditions: make([]Condition, 0, len(rj.Conditions))}
		for _, cj := range rj.Conditions {
			switch cj.Type {
			case "threshold":
				var v float64
				if err := json.Unmarshal(cj.Value, &v); err != nil {
					return nil, fmt.Errorf("rule %q: threshold value: %w", rj.Name, err)
				}
				rule.Conditions = append(rule.Conditions, ThresholdRule{Field: cj.Field, Op: cj.Op, Value: v})
			case "match":
				var v string
				if err := json.Unmarshal(cj.Value, &v); err != nil {
					return nil, fmt.Errorf("rule %q: match value: %w", rj.Name, err)
				}
				rule.Conditions = append(rule.Conditions, MatchRule{Field: cj.Field, Value: v})
			default:
				return nil, fmt.Errorf("rule %q: unknown condition type %q", rj.Name, cj.Type)
			}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
