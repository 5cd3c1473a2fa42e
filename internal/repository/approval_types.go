package repository

import (
	"fmt"
	"time"
)

// ── Entity reference ─────────────────────────────────────────────────────────

// EntityType is the closed set of business entities an approval can attach to.
type EntityType string

const (
	EntityTypeContract EntityType = "CONTRACT"
	EntityTypeQuote    EntityType = "QUOTE"
	EntityTypeTask     EntityType = "TASK"
	EntityTypeCost     EntityType = "COST"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{
	EntityTypeContract,
	EntityTypeQuote,
	EntityTypeTask,
	EntityTypeCost,
}

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeContract, EntityTypeQuote, EntityTypeTask, EntityTypeCost:
		return true
	}
	return false
}

// EntityRef is the polymorphic (entity_type, entity_id) key. The engine never
// holds a schema-specific foreign key.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// ── Status and actions ───────────────────────────────────────────────────────

// ApprovalStatus is the lifecycle status of an approval record.
type ApprovalStatus string

const (
	StatusPending   ApprovalStatus = "PENDING"
	StatusApproved  ApprovalStatus = "APPROVED"
	StatusRejected  ApprovalStatus = "REJECTED"
	StatusWithdrawn ApprovalStatus = "WITHDRAWN"
)

// IsTerminal reports whether no further transitions are accepted.
func (s ApprovalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusWithdrawn
}

// HistoryAction is the transition recorded in a history row.
type HistoryAction string

const (
	ActionSubmit   HistoryAction = "SUBMIT"
	ActionApprove  HistoryAction = "APPROVE"
	ActionReject   HistoryAction = "REJECT"
	ActionDelegate HistoryAction = "DELEGATE"
	ActionWithdraw HistoryAction = "WITHDRAW"
)

// ── Approver resolution rules ────────────────────────────────────────────────

// ApproverRule decides who approves a step. Implementations are
// FixedApprover, RoleApprover and ManagerOfInitiator.
type ApproverRule interface {
	approverRule()
	Kind() string
}

// FixedApprover names a single user.
type FixedApprover struct {
	UserID string
}

// RoleApprover accepts any user holding Role.
type RoleApprover struct {
	Role string
}

// ManagerOfInitiator resolves to the initiator's manager.
type ManagerOfInitiator struct{}

func (FixedApprover) approverRule()      {}
func (RoleApprover) approverRule()       {}
func (ManagerOfInitiator) approverRule() {}

func (FixedApprover) Kind() string      { return "fixed" }
func (RoleApprover) Kind() string       { return "role" }
func (ManagerOfInitiator) Kind() string { return "manager_of_initiator" }

// ── Routing conditions ───────────────────────────────────────────────────────

// CompareOp is a numeric comparison operator.
type CompareOp string

const (
	OpGTE CompareOp = "gte"
	OpGT  CompareOp = "gt"
	OpLTE CompareOp = "lte"
	OpLT  CompareOp = "lt"
	OpEQ  CompareOp = "eq"
	OpNE  CompareOp = "ne"
)

// Valid reports whether op is a known operator.
func (op CompareOp) Valid() bool {
	switch op {
	case OpGTE, OpGT, OpLTE, OpLT, OpEQ, OpNE:
		return true
	}
	return false
}

// Condition is one predicate over routing params. Implementations are
// ThresholdRule and MatchRule.
type Condition interface {
	condition()
	Kind() string
}

// ThresholdRule compares a numeric routing param against Value.
type ThresholdRule struct {
	Field string
	Op    CompareOp
	Value float64
}

// MatchRule requires a string routing param to equal Value.
type MatchRule struct {
	Field string
	Value string
}

func (ThresholdRule) condition() {}
func (MatchRule) condition()     {}

func (ThresholdRule) Kind() string { return "threshold" }
func (MatchRule) Kind() string     { return "match" }

// RoutingRule matches when all of its conditions match.
type RoutingRule struct {
	Name       string
	Conditions []Condition
}

// ── Workflow templates ───────────────────────────────────────────────────────

// WorkflowStepDef is one checkpoint in a template.
type WorkflowStepDef struct {
	StepOrder   int
	Name        string
	Approver    ApproverRule
	CanDelegate bool
	IsOptional  bool
}

// WorkflowTemplate is the configuration of ordered steps and routing for an
// entity type.
type WorkflowTemplate struct {
	ID           string
	Name         string
	EntityType   EntityType
	Steps        []WorkflowStepDef
	RoutingRules []RoutingRule
	Priority     int // lower = evaluated first
	IsDefault    bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TotalSteps returns the number of steps.
func (t *WorkflowTemplate) TotalSteps() int {
	return len(t.Steps)
}

// Step returns the definition for a 1-based step order.
func (t *WorkflowTemplate) Step(order int) (*WorkflowStepDef, bool) {
	for i := range t.Steps {
		if t.Steps[i].StepOrder == order {
			return &t.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the template.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	c := *t
	c.Steps = append([]WorkflowStepDef(nil), t.Steps...)
	c.RoutingRules = make([]RoutingRule, len(t.RoutingRules))
	for i, rule := range t.RoutingRules {
		c.RoutingRules[i] = RoutingRule{
			Name:       rule.Name,
			Conditions: append([]Condition(nil), rule.Conditions...),
		}
	}
	return &c
}

// ── Approval records ─────────────────────────────────────────────────────────

// ApprovalRecord is one in-flight or completed approval instance.
type ApprovalRecord struct {
	ID                 string                 `json:"id"`
	EntityType         EntityType             `json:"entity_type"`
	EntityID           string                 `json:"entity_id"`
	WorkflowTemplateID string                 `json:"workflow_template_id"`
	InitiatorID        string                 `json:"initiator_id"`
	Status             ApprovalStatus         `json:"status"`
	CurrentStepOrder   int                    `json:"current_step_order"`
	TotalSteps         int                    `json:"total_steps"`
	StartedAt          time.Time              `json:"started_at"`
	CompletedAt        *time.Time             `json:"completed_at,omitempty"`
	Comment            *string                `json:"comment,omitempty"`
	RoutingParams      map[string]interface{} `json:"routing_params,omitempty"`
	Version            int                    `json:"version"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Ref returns the record's entity reference.
func (r *ApprovalRecord) Ref() EntityRef {
	return EntityRef{Type: r.EntityType, ID: r.EntityID}
}

// Clone returns a copy safe to mutate.
func (r *ApprovalRecord) Clone() *ApprovalRecord {
	c := *r
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	if r.Comment != nil {
		s := *r.Comment
		c.Comment = &s
	}
	if r.RoutingParams != nil {
		c.RoutingParams = make(map[string]interface{}, len(r.RoutingParams))
		for k, v := range r.RoutingParams {
			c.RoutingParams[k] = v
		}
	}
	return &c
}

// ApprovalHistory is one immutable row of the audit ledger.
type ApprovalHistory struct {
	ID           string        `json:"id"`
	RecordID     string        `json:"record_id"`
	StepOrder    int           `json:"step_order"`
	Action       HistoryAction `json:"action"`
	ActorID      string        `json:"actor_id"`
	DelegateToID *string       `json:"delegate_to_id,omitempty"`
	Comment      *string       `json:"comment,omitempty"`
	Seq          int64         `json:"seq"`
	ActedAt      time.Time     `json:"acted_at"`
}

// Clone returns a copy safe to mutate.
func (h *ApprovalHistory) Clone() *ApprovalHistory {
	c := *h
	if h.DelegateToID != nil {
		s := *h.DelegateToID
		c.DelegateToID = &s
	}
	if h.Comment != nil {
		s := *h.Comment
		c.Comment = &s
	}
	return &c
}
