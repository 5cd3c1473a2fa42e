package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Directory resolves users for role and manager based approver rules.
type Directory interface {
	// UsersWithRole returns the IDs of users holding role.
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	// ManagerOf returns the manager of userID, or "" when none is known.
	ManagerOf(ctx context.Context, userID string) (string, error)
}

// EffectiveApprover is who may act on a record's current step.
type EffectiveApprover struct {
	StepOrder int
	// UserIDs lists every user allowed to act. Fixed and manager rules yield
	// one user; role rules yield every holder of the role.
	UserIDs     []string
	Delegated   bool
	CanDelegate bool
}

// Allows reports whether userID may act on the step.
func (e *EffectiveApprover) Allows(userID string) bool {
	for _, id := range e.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Primary returns the first eligible user, or "".
func (e *EffectiveApprover) Primary() string {
	if len(e.UserIDs) == 0 {
		return ""
	}
	return e.UserIDs[0]
}

// Transition is the result of one state-machine step: the new record state,
// the history row describing it and the version the write must replace.
type Transition struct {
	Record          *repository.ApprovalRecord
	Entry           *repository.ApprovalHistory
	ExpectedVersion int
}

// StepEngine holds the approval state machine. It never touches storage;
// callers load the record and history, apply a transition and persist the
// result atomically.
type StepEngine struct {
	directory Directory
	now       func() time.Time
}

// NewStepEngine creates a new StepEngine.
func NewStepEngine(directory Directory) *StepEngine {
	return &StepEngine{directory: directory, now: time.Now}
}

// WithClock overrides the engine clock.
func (e *StepEngine) WithClock(now func() time.Time) *StepEngine {
	e.now = now
	return e
}

// ── Start ─────────────────────────────────────────────────────────────────────

// Start creates a PENDING record at step 1 for ref. pending is the entity's
// existing PENDING record, if any, which makes the submission illegal.
func (e *StepEngine) Start(
	tmpl *repository.WorkflowTemplate,
	ref repository.EntityRef,
	pending *repository.ApprovalRecord,
	initiatorID string,
	comment string,
	params map[string]interface{},
) (*Transition, error) {
	if pending != nil {
		return nil, errors.InvalidState(fmt.Sprintf("an approval is already pending for %s", ref)).
			WithDetail("record_id", pending.ID)
	}
	if tmpl.TotalSteps() == 0 {
		return nil, errors.RoutingFailure(fmt.Sprintf("workflow template %q has no steps", tmpl.ID))
	}

	now := e.now()
	rec := &repository.ApprovalRecord{
		EntityType:         ref.Type,
		EntityID:           ref.ID,
		WorkflowTemplateID: tmpl.ID,
		InitiatorID:        initiatorID,
		Status:             repository.StatusPending,
		CurrentStepOrder:   1,
		TotalSteps:         tmpl.TotalSteps(),
		StartedAt:          now,
		Comment:            optional(comment),
		RoutingParams:      params,
		Version:            1,
		UpdatedAt:          now,
	}
	// RecordID is filled in once the record has been inserted.
	entry := &repository.ApprovalHistory{
		StepOrder: 1,
		Action:    repository.ActionSubmit,
		ActorID:   initiatorID,
		Comment:   optional(comment),
	}
	return &Transition{Record: rec, Entry: entry}, nil
}

// ── Approve / Reject ──────────────────────────────────────────────────────────

// Approve records the current approver's approval. The record advances one
// step, or becomes APPROVED after the last step.
func (e *StepEngine) Approve(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
	actorID, comment string,
) (*Transition, error) {
	if err := e.authorize(ctx, tmpl, rec, history, actorID, "approve"); err != nil {
		return nil, err
	}

	next := rec.Clone()
	next.Version++
	if rec.CurrentStepOrder < rec.TotalSteps {
		next.CurrentStepOrder++
	} else {
		now := e.now()
		next.Status = repository.StatusApproved
		next.CompletedAt = &now
	}
	return e.transition(rec, next, repository.ActionApprove, actorID, nil, comment), nil
}

// Reject ends the workflow at the current step.
func (e *StepEngine) Reject(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
	actorID, comment string,
) (*Transition, error) {
	if err := e.authorize(ctx, tmpl, rec, history, actorID, "reject"); err != nil {
		return nil, err
	}

	now := e.now()
	next := rec.Clone()
	next.Version++
	next.Status = repository.StatusRejected
	next.CompletedAt = &now
	return e.transition(rec, next, repository.ActionReject, actorID, nil, comment), nil
}

// ── Delegate ──────────────────────────────────────────────────────────────────

// Delegate hands the current step to delegateTo. The step order does not
// change; only the effective approver does.
func (e *StepEngine) Delegate(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
	actorID, delegateTo, comment string,
) (*Transition, error) {
	if delegateTo == "" {
		return nil, errors.InvalidInput("delegate_to_id", "delegate is required")
	}
	if delegateTo == actorID {
		return nil, errors.InvalidInput("delegate_to_id", "cannot delegate to yourself")
	}
	if err := e.authorize(ctx, tmpl, rec, history, actorID, "delegate"); err != nil {
		return nil, err
	}
	step, _ := tmpl.Step(rec.CurrentStepOrder)
	if !step.CanDelegate {
		return nil, errors.PermissionDenied(fmt.Sprintf("step %d does not allow delegation", rec.CurrentStepOrder))
	}

	next := rec.Clone()
	next.Version++
	return e.transition(rec, next, repository.ActionDelegate, actorID, &delegateTo, comment), nil
}

// ── Withdraw ──────────────────────────────────────────────────────────────────

// Withdraw lets the initiator cancel a PENDING record.
func (e *StepEngine) Withdraw(rec *repository.ApprovalRecord, actorID, comment string) (*Transition, error) {
	if rec.Status != repository.StatusPending {
		return nil, errors.InvalidState(fmt.Sprintf("approval cannot be withdrawn from status %s", rec.Status))
	}
	if rec.InitiatorID != actorID {
		return nil, errors.PermissionDenied("only the initiator can withdraw the approval")
	}

	now := e.now()
	next := rec.Clone()
	next.Version++
	next.Status = repository.StatusWithdrawn
	next.CompletedAt = &now
	return e.transition(rec, next, repository.ActionWithdraw, actorID, nil, comment), nil
}

// ── Effective approver ────────────────────────────────────────────────────────

// EffectiveApprover derives who may act on rec's current step: the target
// of the latest DELEGATE for that step, otherwise the step's static rule.
func (e *StepEngine) EffectiveApprover(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
) (*EffectiveApprover, error) {
	step, ok := tmpl.Step(rec.CurrentStepOrder)
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("workflow template %q has no step %d", tmpl.ID, rec.CurrentStepOrder))
	}

	ea := &EffectiveApprover{StepOrder: step.StepOrder, CanDelegate: step.CanDelegate}
	if delegate, ok := latestDelegate(history, rec.CurrentStepOrder); ok {
		ea.UserIDs = []string{delegate}
		ea.Delegated = true
		return ea, nil
	}

	users, err := e.resolveRule(ctx, step.Approver, rec.InitiatorID)
	if err != nil {
		return nil, err
	}
	ea.UserIDs = users
	return ea, nil
}

func (e *StepEngine) resolveRule(ctx context.Context, rule repository.ApproverRule, initiatorID string) ([]string, error) {
	switch a := rule.(type) {
	case repository.FixedApprover:
		return []string{a.UserID}, nil
	case repository.RoleApprover:
		users, err := e.directory.UsersWithRole(ctx, a.Role)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve role "+a.Role)
		}
		return users, nil
	case repository.ManagerOfInitiator:
		manager, err := e.directory.ManagerOf(ctx, initiatorID)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve manager of "+initiatorID)
		}
		if manager == "" {
			return nil, nil
		}
		return []string{manager}, nil
	default:
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("unsupported approver rule %T", rule))
	}
}

// latestDelegate scans history for the last DELEGATE recorded against step.
// History is ordered by seq, so the last match wins.
func latestDelegate(history []*repository.ApprovalHistory, step int) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Action == repository.ActionDelegate && h.StepOrder == step && h.DelegateToID != nil {
			return *h.DelegateToID, true
		}
	}
	return "", false
}

// authorize checks that rec is PENDING and actorID is its effective approver.
func (e *StepEngine) authorize(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
	actorID, action string,
) error {
	if rec.Status != repository.StatusPending {
		return errors.InvalidState(fmt.Sprintf("cannot %s: approval is %s", action, rec.Status))
	}
	ea, err := e.EffectiveApprover(ctx, tmpl, rec, history)
	if err != nil {
		return err
	}
	if !ea.Allows(actorID) {
		return errors.PermissionDenied(fmt.Sprintf("user %s is not the approver for step %d", actorID, rec.CurrentStepOrder)).
			WithDetail("step_order", rec.CurrentStepOrder)
	}
	return nil
}

// transition stamps the history row for prev -> next. The row's step order
// is the step acted on, before any advance.
func (e *StepEngine) transition(
	prev, next *repository.ApprovalRecord,
	action repository.HistoryAction,
	actorID string,
	delegateTo *string,
	comment string,
) *Transition {
	next.UpdatedAt = e.now()
	return &Transition{
		Record: next,
		Entry: &repository.ApprovalHistory{
			RecordID:     prev.ID,
			StepOrder:    prev.CurrentStepOrder,
			Action:       action,
			ActorID:      actorID,
			DelegateToID: delegateTo,
			Comment:      optional(comment),
		},
		ExpectedVersion: prev.Version,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
