// Package notify turns domain events into customer e-mail. The event bus
// only enqueues; a queue worker renders and sends, so a slow SMTP server
// never holds up checkout.
package notify

import (
	"context"
	"encoding/json"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/events"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/queue"
)

// TaskOrderEmail is the queue kind for order confirmation e-mail.
const TaskOrderEmail = "email:order"

// Enqueuer publishes queue tasks. Implemented by queue.Enqueuer.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// Envelope is the queued task payload.
type Envelope struct {
	EventID string          `json:"eventId"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// EmailNotifier implements events.Notifier for the topics that send mail.
type EmailNotifier struct {
	Queue       Enqueuer
	Enabled     bool
	MaxAttempts int
}

// Notify enqueues one e-mail task per event, keyed by the event id.
func (n EmailNotifier) Notify(ctx context.Context, event db.DomainEvent) error {
	if !n.Enabled || n.Queue == nil || event.Topic != events.TopicOrderPlaced {
		return nil
	}
	raw, err := json.Marshal(Envelope{EventID: event.ID.String(), Topic: event.Topic, Payload: event.Payload})
	if err != nil {
		return err
	}
	return n.Queue.Enqueue(ctx, queue.Task{
		Kind:           TaskOrderEmail,
		Payload:        raw,
		IdempotencyKey: event.ID.String(),
		MaxAttempts:    n.MaxAttempts,
	})
}
