package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Approval event types, published on notifications.approvals.<event_type>.
const (
	EventApprovalSubmitted = "approval_submitted"
	EventApprovalRequired  = "approval_required"
	EventApprovalApproved  = "approval_approved"
	EventApprovalRejected  = "approval_rejected"
	EventApprovalWithdrawn = "approval_withdrawn"
	EventApprovalDelegated = "approval_delegated"
)

// Publisher is the transport the NotificationPublisher writes to.
// *NATSClient satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes approval events for the notifications
// service. Publishing never fails the caller: errors are logged and dropped.
type NotificationPublisher struct {
	pub Publisher
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	RecordID     string                 `json:"record_id"`
	EntityType   string                 `json:"entity_type"`
	EntityID     string                 `json:"entity_id"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	StepOrder    int                    `json:"step_order"`
	Status       string                 `json:"status"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil pub disables publishing.
func NewNotificationPublisher(pub Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{pub: pub, log: log}
}

// PublishApprovalEvent publishes eventType for rec to recipients. Events
// with no recipients are skipped.
func (p *NotificationPublisher) PublishApprovalEvent(
	ctx context.Context,
	eventType string,
	rec *repository.ApprovalRecord,
	actorID string,
	recipients []string,
	payload map[string]interface{},
) {
	if p == nil || p.pub == nil || rec == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		RecordID:     rec.ID,
		EntityType:   string(rec.EntityType),
		EntityID:     rec.EntityID,
		ActorID:      actorID,
		Recipients:   recipients,
		StepOrder:    rec.CurrentStepOrder,
		Status:       string(rec.Status),
		IsActionable: eventType == EventApprovalRequired || eventType == EventApprovalDelegated,
		Severity:     severityOf(eventType),
		Category:     "approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("record_id", rec.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("record_id", rec.ID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func severityOf(eventType string) string {
	switch eventType {
	case EventApprovalRejected:
		return "warning"
	case EventApprovalApproved:
		return "success"
	default:
		return "info"
	}
}
