package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/metrics"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/tracing"
)

// StartApprovalRequest submits an entity for approval.
type StartApprovalRequest struct {
	EntityType    repository.EntityType  `json:"entity_type"`
	EntityID      string                 `json:"entity_id"`
	InitiatorID   string                 `json:"initiator_id"`
	TemplateID    string                 `json:"template_id,omitempty"`
	RoutingParams map[string]interface{} `json:"routing_params,omitempty"`
	Comment       string                 `json:"comment,omitempty"`
}

// ActionRequest identifies an actor acting on a record. ExpectedVersion,
// when set, must equal the record's current version.
type ActionRequest struct {
	RecordID        string `json:"record_id"`
	ActorID         string `json:"actor_id"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
}

// DelegateRequest hands the current step to another user.
type DelegateRequest struct {
	ActionRequest
	DelegateToID string `json:"delegate_to_id"`
}

// CurrentStep describes who may act on a PENDING record.
type CurrentStep struct {
	RecordID     string   `json:"record_id"`
	StepOrder    int      `json:"step_order"`
	StepName     string   `json:"step_name,omitempty"`
	ApproverID   string   `json:"approver_id"`
	CandidateIDs []string `json:"candidate_ids"`
	Delegated    bool     `json:"delegated"`
	CanDelegate  bool     `json:"can_delegate"`
	IsOptional   bool     `json:"is_optional"`
}

// ApprovalWorkflowService is the public face of the approval engine.
type ApprovalWorkflowService struct {
	store    repository.Store
	resolver *RoutingResolver
	engine   *StepEngine
	history  *HistoryRecorder
	metrics  *metrics.Recorder
	log      *logger.Logger
}

// NewApprovalWorkflowService creates a new ApprovalWorkflowService. recorder
// may be nil.
func NewApprovalWorkflowService(
	store repository.Store,
	resolver *RoutingResolver,
	engine *StepEngine,
	history *HistoryRecorder,
	recorder *metrics.Recorder,
	log *logger.Logger,
) *ApprovalWorkflowService {
	return &ApprovalWorkflowService{
		store:    store,
		resolver: resolver,
		engine:   engine,
		history:  history,
		metrics:  recorder,
		log:      log,
	}
}

// ── Start ─────────────────────────────────────────────────────────────────────

// StartApproval resolves a template and creates a PENDING record at step 1.
func (s *ApprovalWorkflowService) StartApproval(ctx context.Context, req StartApprovalRequest) (rec *repository.ApprovalRecord, err error) {
	const op = "start"
	ctx, span := tracing.StartSpan(ctx, "approvals.start", "INTERNAL")
	span.WithAttributes(map[string]string{"entity_type": string(req.EntityType), "entity_id": req.EntityID})
	defer s.finish(op, span, time.Now(), &err)

	if !req.EntityType.Valid() {
		return nil, errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type %q", req.EntityType))
	}
	if strings.TrimSpace(req.EntityID) == "" {
		return nil, errors.InvalidInput("entity_id", "entity_id is required")
	}
	if strings.TrimSpace(req.InitiatorID) == "" {
		return nil, errors.InvalidInput("initiator_id", "initiator_id is required")
	}

	ref := repository.EntityRef{Type: req.EntityType, ID: req.EntityID}

	// Fail fast before routing; the transaction below re-checks.
	pending, err := s.store.GetPendingRecord(ctx, ref)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, errors.InvalidState(fmt.Sprintf("an approval is already pending for %s", ref)).
			WithDetail("record_id", pending.ID)
	}

	res, err := s.resolver.Resolve(ctx, req.EntityType, req.RoutingParams, req.TemplateID)
	if err != nil {
		return nil, err
	}
	s.metrics.Routed(string(req.EntityType), res.Template.ID, res.Source)

	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		pending, err := tx.GetPendingRecord(ctx, ref)
		if err != nil {
			return err
		}
		tr, err := s.engine.Start(res.Template, ref, pending, req.InitiatorID, req.Comment, req.RoutingParams)
		if err != nil {
			return err
		}
		if err := tx.InsertRecord(ctx, tr.Record); err != nil {
			return err
		}
		tr.Entry.RecordID = tr.Record.ID
		if err := s.history.Record(ctx, tx, tr.Entry); err != nil {
			return err
		}
		rec = tr.Record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(rec.EntityType), string(repository.ActionSubmit), string(rec.Status))
	s.log.Info().
		Str("record_id", rec.ID).
		Str("entity", ref.String()).
		Str("template_id", rec.WorkflowTemplateID).
		Str("routing", res.Source).
		Str("rule", res.RuleName).
		Int("total_steps", rec.TotalSteps).
		Msg("Approval started")

	return rec, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetApprovalRecord returns the most recent record for an entity, whatever its
// status, or nil when the entity was never submitted.
func (s *ApprovalWorkflowService) GetApprovalRecord(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
) (*repository.ApprovalRecord, error) {
	if !entityType.Valid() {
		return nil, errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type %q", entityType))
	}
	return s.store.GetLatestRecord(ctx, repository.EntityRef{Type: entityType, ID: entityID})
}

// GetRecord returns a record by ID.
func (s *ApprovalWorkflowService) GetRecord(ctx context.Context, recordID string) (*repository.ApprovalRecord, error) {
	return s.store.GetRecord(ctx, recordID)
}

// GetCurrentStep reports the step awaiting action and who may act on it.
// Returns nil for terminal records.
func (s *ApprovalWorkflowService) GetCurrentStep(ctx context.Context, recordID string) (*CurrentStep, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status.IsTerminal() {
		return nil, nil
	}

	tmpl, err := s.store.GetTemplate(ctx, rec.WorkflowTemplateID)
	if err != nil {
		return nil, err
	}
	history, err := s.history.GetHistory(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return s.currentStep(ctx, tmpl, rec, history)
}

func (s *ApprovalWorkflowService) currentStep(
	ctx context.Context,
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
) (*CurrentStep, error) {
	ea, err := s.engine.EffectiveApprover(ctx, tmpl, rec, history)
	if err != nil {
		return nil, err
	}
	step, _ := tmpl.Step(rec.CurrentStepOrder)

	candidates := ea.UserIDs
	if candidates == nil {
		candidates = []string{}
	}
	return &CurrentStep{
		RecordID:     rec.ID,
		StepOrder:    ea.StepOrder,
		StepName:     step.Name,
		ApproverID:   ea.Primary(),
		CandidateIDs: candidates,
		Delegated:    ea.Delegated,
		CanDelegate:  ea.CanDelegate,
		IsOptional:   step.IsOptional,
	}, nil
}

// GetApprovalHistory returns the record's history ordered by seq.
func (s *ApprovalWorkflowService) GetApprovalHistory(ctx context.Context, recordID string) ([]*repository.ApprovalHistory, error) {
	if _, err := s.store.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.history.GetHistory(ctx, recordID)
}

// ListPendingForApprover returns PENDING records whose current step userID may
// act on.
func (s *ApprovalWorkflowService) ListPendingForApprover(ctx context.Context, userID string) ([]*repository.ApprovalRecord, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "user_id is required")
	}

	records, err := s.store.ListPendingRecords(ctx)
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*repository.WorkflowTemplate)
	out := make([]*repository.ApprovalRecord, 0)
	for _, rec := range records {
		tmpl, ok := templates[rec.WorkflowTemplateID]
		if !ok {
			if tmpl, err = s.store.GetTemplate(ctx, rec.WorkflowTemplateID); err != nil {
				return nil, err
			}
			templates[rec.WorkflowTemplateID] = tmpl
		}
		history, err := s.history.GetHistory(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		ea, err := s.engine.EffectiveApprover(ctx, tmpl, rec, history)
		if err != nil {
			s.log.Warn().Err(err).Str("record_id", rec.ID).Msg("Could not resolve approver; skipping record")
			continue
		}
		if ea.Allows(userID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ── Transitions ───────────────────────────────────────────────────────────────

// ApproveStep approves the current step on behalf of req.ActorID.
func (s *ApprovalWorkflowService) ApproveStep(ctx context.Context, req ActionRequest) (*repository.ApprovalRecord, error) {
	return s.apply(ctx, "approve", repository.ActionApprove, req,
		func(tmpl *repository.WorkflowTemplate, rec *repository.ApprovalRecord, history []*repository.ApprovalHistory) (*Transition, error) {
			return s.engine.Approve(ctx, tmpl, rec, history, req.ActorID, req.Comment)
		})
}

// RejectStep rejects the record at its current step.
func (s *ApprovalWorkflowService) RejectStep(ctx context.Context, req ActionRequest) (*repository.ApprovalRecord, error) {
	return s.apply(ctx, "reject", repository.ActionReject, req,
		func(tmpl *repository.WorkflowTemplate, rec *repository.ApprovalRecord, history []*repository.ApprovalHistory) (*Transition, error) {
			return s.engine.Reject(ctx, tmpl, rec, history, req.ActorID, req.Comment)
		})
}

// DelegateStep hands the current step to req.DelegateToID.
func (s *ApprovalWorkflowService) DelegateStep(ctx context.Context, req DelegateRequest) (*repository.ApprovalRecord, error) {
	return s.apply(ctx, "delegate", repository.ActionDelegate, req.ActionRequest,
		func(tmpl *repository.WorkflowTemplate, rec *repository.ApprovalRecord, history []*repository.ApprovalHistory) (*Transition, error) {
			return s.engine.Delegate(ctx, tmpl, rec, history, req.ActorID, req.DelegateToID, req.Comment)
		})
}

// WithdrawApproval cancels a PENDING record on behalf of its initiator.
func (s *ApprovalWorkflowService) WithdrawApproval(ctx context.Context, req ActionRequest) (*repository.ApprovalRecord, error) {
	return s.apply(ctx, "withdraw", repository.ActionWithdraw, req,
		func(_ *repository.WorkflowTemplate, rec *repository.ApprovalRecord, _ []*repository.ApprovalHistory) (*Transition, error) {
			return s.engine.Withdraw(rec, req.ActorID, req.Comment)
		})
}

type transitionFunc func(
	tmpl *repository.WorkflowTemplate,
	rec *repository.ApprovalRecord,
	history []*repository.ApprovalHistory,
) (*Transition, error)

// apply runs one guarded transition: read the record and its history, let the
// engine compute the next state, then write the record and one history row
// in the same transaction. The record write is a compare-and-swap on version.
func (s *ApprovalWorkflowService) apply(
	ctx context.Context,
	op string,
	action repository.HistoryAction,
	req ActionRequest,
	fn transitionFunc,
) (result *repository.ApprovalRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "approvals."+op, "INTERNAL")
	span.WithAttributes(map[string]string{"record_id": req.RecordID, "actor_id": req.ActorID})
	defer s.finish(op, span, time.Now(), &err)

	if req.RecordID == "" {
		return nil, errors.InvalidInput("record_id", "record_id is required")
	}
	if strings.TrimSpace(req.ActorID) == "" {
		return nil, errors.InvalidInput("actor_id", "actor_id is required")
	}

	var entry *repository.ApprovalHistory
	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		rec, err := tx.GetRecord(ctx, req.RecordID)
		if err != nil {
			return err
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != rec.Version {
			return errors.ConcurrentModification("approval_record", rec.ID).
				WithDetail("expected_version", *req.ExpectedVersion).
				WithDetail("current_version", rec.Version)
		}

		tmpl, err := s.store.GetTemplate(ctx, rec.WorkflowTemplateID)
		if err != nil {
			return err
		}
		history, err := readHistory(ctx, tx, rec.ID)
		if err != nil {
			return err
		}

		tr, err := fn(tmpl, rec, history)
		if err != nil {
			return err
		}
		if err := tx.UpdateRecord(ctx, tr.Record, tr.ExpectedVersion); err != nil {
			return err
		}
		if err := s.history.Record(ctx, tx, tr.Entry); err != nil {
			return err
		}
		result, entry = tr.Record, tr.Entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(result.EntityType), string(action), string(result.Status))
	ev := s.log.Info().
		Str("record_id", result.ID).
		Str("action", string(action)).
		Str("actor_id", req.ActorID).
		Int("step_order", entry.StepOrder).
		Str("status", string(result.Status)).
		Int("version", result.Version)
	if entry.DelegateToID != nil {
		ev = ev.Str("delegate_to_id", *entry.DelegateToID)
	}
	ev.Msg("Approval transition committed")

	return result, nil
}

// finish closes the span and records duration and failure metrics.
func (s *ApprovalWorkflowService) finish(op string, span *tracing.Span, start time.Time, errp *error) {
	err := *errp
	tracing.EndSpan(span, err)
	s.metrics.ObserveDuration(op, start)
	if err != nil {
		s.metrics.Failure(op, err)
		s.log.Debug().Err(err).Str("op", op).Msg("Approval operation failed")
	}
}

// ── Template administration ───────────────────────────────────────────────────

// SaveTemplate validates and stores a template. A template that some PENDING
// record still uses keeps its step count; changing it would strand records.
func (s *ApprovalWorkflowService) SaveTemplate(ctx context.Context, t *repository.WorkflowTemplate) error {
	if err := ValidateTemplate(t); err != nil {
		return err
	}

	if t.ID != "" {
		existing, err := s.store.GetTemplate(ctx, t.ID)
		if err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
			return err
		}
		if existing != nil && existing.TotalSteps() != t.TotalSteps() {
			inUse, err := s.templateInUse(ctx, t.ID)
			if err != nil {
				return err
			}
			if inUse {
				return errors.InvalidState(fmt.Sprintf(
					"workflow template %q has pending approvals; its step count cannot change", t.ID))
			}
		}
	}

	if err := s.store.SaveTemplate(ctx, t); err != nil {
		return err
	}

	s.log.Info().
		Str("template_id", t.ID).
		Str("entity_type", string(t.EntityType)).
		Int("steps", t.TotalSteps()).
		Int("rules", len(t.RoutingRules)).
		Bool("default", t.IsDefault).
		Msg("Workflow template saved")
	return nil
}

func (s *ApprovalWorkflowService) templateInUse(ctx context.Context, templateID string) (bool, error) {
	records, err := s.store.ListPendingRecords(ctx)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.WorkflowTemplateID == templateID {
			return true, nil
		}
	}
	return false, nil
}

// GetTemplate returns a template by ID.
func (s *ApprovalWorkflowService) GetTemplate(ctx context.Context, id string) (*repository.WorkflowTemplate, error) {
	return s.store.GetTemplate(ctx, id)
}

// ListTemplates returns templates for entityType, or all when empty.
func (s *ApprovalWorkflowService) ListTemplates(
	ctx context.Context,
	entityType repository.EntityType,
	activeOnly bool,
) ([]*repository.WorkflowTemplate, error) {
	if entityType != "" && !entityType.Valid() {
		return nil, errors.InvalidInput("entity_type", fmt.Sprintf("unknown entity type %q", entityType))
	}
	return s.store.ListTemplates(ctx, entityType, activeOnly)
}
