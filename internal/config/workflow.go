package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// WorkflowConfig is the decoded workflow document: templates to seed and the
// users the static directory knows about.
type WorkflowConfig struct {
	Templates []*repository.WorkflowTemplate
	Users     []client.DirectoryEntry
}

type workflowDoc struct {
	Directory struct {
		Users []userDoc `yaml:"users"`
	} `yaml:"directory"`
	Templates []templateDoc `yaml:"templates"`
	Ladders   []ladderDoc   `yaml:"ladders"`
}

type userDoc struct {
	ID      string   `yaml:"id"`
	Roles   []string `yaml:"roles"`
	Manager string   `yaml:"manager"`
}

type templateDoc struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	EntityType   string    `yaml:"entity_type"`
	Priority     int       `yaml:"priority"`
	Default      bool      `yaml:"default"`
	Active       *bool     `yaml:"active"`
	Steps        []stepDoc `yaml:"steps"`
	RoutingRules []ruleDoc `yaml:"routing_rules"`
}

type stepDoc struct {
	StepOrder   int         `yaml:"step_order"`
	Name        string      `yaml:"name"`
	Approver    approverDoc `yaml:"approver"`
	CanDelegate bool        `yaml:"can_delegate"`
	Optional    bool        `yaml:"optional"`
}

type approverDoc struct {
	Type   string `yaml:"type"`
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
}

type ruleDoc struct {
	Name       string         `yaml:"name"`
	Conditions []conditionDoc `yaml:"conditions"`
}

// conditionDoc is a threshold when Op is set and a match when Equals is set.
type conditionDoc struct {
	Field  string   `yaml:"field"`
	Op     string   `yaml:"op"`
	Value  *float64 `yaml:"value"`
	Equals *string  `yaml:"equals"`
}

type ladderDoc struct {
	EntityType string    `yaml:"entity_type"`
	Field      string    `yaml:"field"`
	Bands      []bandDoc `yaml:"bands"`
}

type bandDoc struct {
	Threshold float64 `yaml:"threshold"`
	Template  string  `yaml:"template"`
}

// LoadWorkflowConfig reads and parses the YAML workflow document at path.
func LoadWorkflowConfig(path string) (*WorkflowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow config: %w", err)
	}
	return ParseWorkflowConfig(data)
}

// ParseWorkflowConfig decodes a workflow document. Unknown keys are errors.
func ParseWorkflowConfig(data []byte) (*WorkflowConfig, error) {
	var doc workflowDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode workflow config: %w", err)
	}

	cfg := &WorkflowConfig{}
	for _, u := range doc.Directory.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("directory user without id")
		}
		cfg.Users = append(cfg.Users, client.DirectoryEntry{UserID: u.ID, Roles: u.Roles, ManagerID: u.Manager})
	}

	byID := make(map[string]*repository.WorkflowTemplate, len(doc.Templates))
	for _, td := range doc.Templates {
		t, err := td.build()
		if err != nil {
			return nil, err
		}
		if _, dup := byID[t.ID]; dup {
			return nil, fmt.Errorf("template %q defined twice", t.ID)
		}
		byID[t.ID] = t
		cfg.Templates = append(cfg.Templates, t)
	}

	for _, ld := range doc.Ladders {
		if ld.Field == "" {
			return nil, fmt.Errorf("ladder for %s has no field", ld.EntityType)
		}
		bands := make([]repository.ThresholdBand, 0, len(ld.Bands))
		for _, b := range ld.Bands {
			t, ok := byID[b.Template]
			if !ok {
				return nil, fmt.Errorf("ladder band references unknown template %q", b.Template)
			}
			if string(t.EntityType) != ld.EntityType {
				return nil, fmt.Errorf("ladder for %s references %s template %q", ld.EntityType, t.EntityType, t.ID)
			}
			bands = append(bands, repository.ThresholdBand{Threshold: b.Threshold, TemplateID: b.Template})
		}
		for id, rules := range repository.ThresholdLadder(ld.Field, bands) {
			byID[id].RoutingRules = append(byID[id].RoutingRules, rules...)
		}
	}

	return cfg, nil
}

func (td templateDoc) build() (*repository.WorkflowTemplate, error) {
	if td.ID == "" {
		return nil, fmt.Errorf("template %q has no id", td.Name)
	}
	t := &repository.WorkflowTemplate{
		ID:         td.ID,
		Name:       td.Name,
		EntityType: repository.EntityType(td.EntityType),
		Priority:   td.Priority,
		IsDefault:  td.Default,
		IsActive:   td.Active == nil || *td.Active,
	}
	if t.Name == "" {
		t.Name = td.ID
	}

	for i, sd := range td.Steps {
		approver, err := repository.DecodeApprover(sd.Approver.Type, sd.Approver.UserID, sd.Approver.Role)
		if err != nil {
			return nil, fmt.Errorf("template %q step %d: %w", td.ID, i+1, err)
		}
		order := sd.StepOrder
		if order == 0 {
			order = i + 1
		}
		t.Steps = append(t.Steps, repository.WorkflowStepDef{
			StepOrder:   order,
			Name:        sd.Name,
			Approver:    approver,
			CanDelegate: sd.CanDelegate,
			IsOptional:  sd.Optional,
		})
	}

	for _, rd := range td.RoutingRules {
		rule := repository.RoutingRule{Name: rd.Name}
		for _, cd := range rd.Conditions {
			cond, err := cd.build()
			if err != nil {
				return nil, fmt.Errorf("template %q rule %q: %w", td.ID, rd.Name, err)
			}
			rule.Conditions = append(rule.Conditions, cond)
		}
		t.RoutingRules = append(t.RoutingRules, rule)
	}
	return t, nil
}

func (cd conditionDoc) build() (repository.Condition, error) {
	switch {
	case cd.Equals != nil && cd.Op != "":
		return nil, fmt.Errorf("condition on %q sets both op and equals", cd.Field)
	case cd.Equals != nil:
		return repository.MatchRule{Field: cd.Field, Value: *cd.Equals}, nil
	case cd.Op != "":
		if cd.Value == nil {
			return nil, fmt.Errorf("threshold on %q has no value", cd.Field)
		}
		return repository.ThresholdRule{Field: cd.Field, Op: repository.CompareOp(cd.Op), Value: *cd.Value}, nil
	default:
		return nil, fmt.Errorf("condition on %q needs op/value or equals", cd.Field)
	}
}
