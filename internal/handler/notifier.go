package handler

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// notifier turns committed transitions into notification events. It runs
// after the transaction and never fails the request.
type notifier struct {
	service   *service.ApprovalWorkflowService
	publisher *client.NotificationPublisher
	log       *logger.Logger
}

func (n *notifier) enabled() bool {
	return n != nil && n.publisher != nil
}

// currentApprovers returns who may act on the record's current step, or nil.
func (n *notifier) currentApprovers(ctx context.Context, recordID string) []string {
	if !n.enabled() {
		return nil
	}
	step, err := n.service.GetCurrentStep(ctx, recordID)
	if err != nil {
		n.log.Debug().Err(err).Str("record_id", recordID).Msg("notification: could not resolve current approvers")
		return nil
	}
	if step == nil {
		return nil
	}
	return step.CandidateIDs
}

func (n *notifier) started(ctx context.Context, rec *repository.ApprovalRecord) {
	if !n.enabled() {
		return
	}
	n.publisher.PublishApprovalEvent(ctx, client.EventApprovalSubmitted, rec, rec.InitiatorID,
		[]string{rec.InitiatorID}, nil)
	n.requireApproval(ctx, rec, rec.InitiatorID)
}

func (n *notifier) approved(ctx context.Context, rec *repository.ApprovalRecord, actorID string) {
	if !n.enabled() {
		return
	}
	if rec.Status == repository.StatusApproved {
		n.publisher.PublishApprovalEvent(ctx, client.EventApprovalApproved, rec, actorID,
			[]string{rec.InitiatorID}, nil)
		return
	}
	n.requireApproval(ctx, rec, actorID)
}

func (n *notifier) rejected(ctx context.Context, rec *repository.ApprovalRecord, actorID, reason string) {
	if !n.enabled() {
		return
	}
	n.publisher.PublishApprovalEvent(ctx, client.EventApprovalRejected, rec, actorID,
		[]string{rec.InitiatorID}, map[string]interface{}{"reason": reason})
}

func (n *notifier) delegated(ctx context.Context, rec *repository.ApprovalRecord, actorID, delegateTo string) {
	if !n.enabled() {
		return
	}
	n.publisher.PublishApprovalEvent(ctx, client.EventApprovalDelegated, rec, actorID,
		[]string{delegateTo}, map[string]interface{}{"delegated_by": actorID})
}

func (n *notifier) withdrawn(ctx context.Context, rec *repository.ApprovalRecord, actorID string, recipients []string) {
	if !n.enabled() {
		return
	}
	n.publisher.PublishApprovalEvent(ctx, client.EventApprovalWithdrawn, rec, actorID, recipients, nil)
}

// requireApproval tells the approvers of rec's current step they are up.
func (n *notifier) requireApproval(ctx context.Context, rec *repository.ApprovalRecord, actorID string) {
	step, err := n.service.GetCurrentStep(ctx, rec.ID)
	if err != nil || step == nil {
		if err != nil {
			n.log.Warn().Err(err).Str("record_id", rec.ID).Msg("notification: could not resolve next approver")
		}
		return
	}
	n.publisher.PublishApprovalEvent(ctx, client.EventApprovalRequired, rec, actorID, step.CandidateIDs,
		map[string]interface{}{"step_name": step.StepName})
}
