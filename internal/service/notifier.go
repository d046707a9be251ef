package service

import (
	"context"

	"github.com/pesio-ai/be-procurement/internal/repository"
)

// Notifier is the side channel that tells approvers and submitters what
// happened. Implementations must be non-fatal: a lost notification never
// fails the operation that produced it. The orchestrator publishes only
// after the unit of work has committed.
type Notifier interface {
	StepPending(ctx context.Context, doc *repository.Document, step *repository.DocumentApproval)
	DocumentSubmitted(ctx context.Context, doc *repository.Document, actorID string)
	DocumentApproved(ctx context.Context, doc *repository.Document, actorID string)
	DocumentRejected(ctx context.Context, doc *repository.Document, actorID, reason string)
	DocumentCancelled(ctx context.Context, doc *repository.Document, actorID, reason string)
	DocumentConverted(ctx context.Context, requisition, order *repository.Document, actorID string)
}

// NopNotifier discards all events. Used when NATS is not configured, and in
// tests.
type NopNotifier struct{}

func (NopNotifier) StepPending(context.Context, *repository.Document, *repository.DocumentApproval) {
}
func (NopNotifier) DocumentSubmitted(context.Context, *repository.Document, string)          {}
func (NopNotifier) DocumentApproved(context.Context, *repository.Document, string)           {}
func (NopNotifier) DocumentRejected(context.Context, *repository.Document, string, string)   {}
func (NopNotifier) DocumentCancelled(context.Context, *repository.Document, string, string)  {}
func (NopNotifier) DocumentConverted(context.Context, *repository.Document, *repository.Document, string) {
}
