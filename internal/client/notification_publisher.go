package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// NotificationPublisher publishes procurement workflow events to NATS
// JetStream for consumption by the be-plt-notifications service.
//
// Subject convention: notifications.procurement.<event_type>
// Event types: document_submitted, approval_required, document_approved,
//              document_rejected, document_cancelled, document_converted
//
// All publish operations are non-fatal — errors are logged but never
// propagated to the caller, so notification failures never interrupt
// workflow operations.
type NotificationPublisher struct {
	js  nats.JetStreamContext
	log *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	ActorID      string         `json:"actor_id"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher on the given JetStream
// context. A nil context yields a publisher that silently drops events.
func NewNotificationPublisher(js nats.JetStreamContext, log *logger.Logger) *NotificationPublisher {
	return &NotificationPublisher{js: js, log: log}
}

// StepPending announces that a new approval step awaits holders of its role.
func (p *NotificationPublisher) StepPending(ctx context.Context, doc *repository.Document, step *repository.DocumentApproval) {
	p.publish(ctx, "approval_required", doc, "", map[string]any{
		"doc_number": doc.Number,
		"step_order": step.StepOrder,
		"role":       step.RoleName,
	})
}

// DocumentSubmitted announces a document entering its approval flow.
func (p *NotificationPublisher) DocumentSubmitted(ctx context.Context, doc *repository.Document, actorID string) {
	p.publish(ctx, "document_submitted", doc, actorID, map[string]any{
		"doc_number":   doc.Number,
		"total_amount": doc.TotalAmount.String(),
		"currency":     doc.Currency,
	})
}

// DocumentApproved announces full approval of a document.
func (p *NotificationPublisher) DocumentApproved(ctx context.Context, doc *repository.Document, actorID string) {
	p.publish(ctx, "document_approved", doc, actorID, map[string]any{
		"doc_number": doc.Number,
	})
}

// DocumentRejected announces a rejection.
func (p *NotificationPublisher) DocumentRejected(ctx context.Context, doc *repository.Document, actorID, reason string) {
	p.publish(ctx, "document_rejected", doc, actorID, map[string]any{
		"doc_number": doc.Number,
		"reason":     reason,
	})
}

// DocumentCancelled announces a withdrawal.
func (p *NotificationPublisher) DocumentCancelled(ctx context.Context, doc *repository.Document, actorID, reason string) {
	p.publish(ctx, "document_cancelled", doc, actorID, map[string]any{
		"doc_number": doc.Number,
		"reason":     reason,
	})
}

// DocumentConverted announces a requisition turned into an order.
func (p *NotificationPublisher) DocumentConverted(ctx context.Context, requisition, order *repository.Document, actorID string) {
	p.publish(ctx, "document_converted", requisition, actorID, map[string]any{
		"doc_number":   requisition.Number,
		"order_id":     order.ID,
		"order_number": order.Number,
	})
}

func (p *NotificationPublisher) publish(ctx context.Context, eventType string, doc *repository.Document, actorID string, payload map[string]any) {
	if p.js == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		ResourceType: string(doc.Kind),
		ResourceID:   doc.ID,
		IsActionable: true,
		Severity:     "info",
		Category:     "procurement_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.procurement.%s", eventType)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("document_id", doc.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("document_id", doc.ID).
		Msg("notification: event published")
}
