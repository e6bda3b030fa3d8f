package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// EventStore persists domain events.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, arg db.InsertDomainEventParams) (db.DomainEvent, error)
}

// Notifier forwards a persisted event somewhere else (mail queue, Kafka).
type Notifier interface {
	Notify(ctx context.Context, event db.DomainEvent) error
}

// Bus writes events to the domain_events table and then hands them to every
// notifier. The table row is the source of truth, so notifier failures are
// logged and swallowed.
type Bus struct {
	Store     EventStore
	Notifiers []Notifier
	Logger    *zerolog.Logger
	// NotifyTimeout bounds each notifier call; zero means the caller's context.
	NotifyTimeout time.Duration
}

// Emit persists payload under topic for the given aggregate (usually an
// order id) and fans it out.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (db.DomainEvent, error) {
	if b == nil || b.Store == nil {
		return db.DomainEvent{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	aggregateID = strings.TrimSpace(aggregateID)
	switch {
	case topic == "":
		return db.DomainEvent{}, errors.New("events: topic is required")
	case aggregateID == "":
		return db.DomainEvent{}, errors.New("events: aggregate id is required")
	}

	body, err := marshal(payload)
	if err != nil {
		return db.DomainEvent{}, errors.Wrapf(err, "events: encode %s", topic)
	}
	ev, err := b.Store.InsertDomainEvent(ctx, db.InsertDomainEventParams{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     body,
	})
	if err != nil {
		return db.DomainEvent{}, errors.Wrapf(err, "events: persist %s", topic)
	}
	b.fanOut(ctx, ev)
	return ev, nil
}

func (b *Bus) fanOut(ctx context.Context, ev db.DomainEvent) {
	log := b.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		log = l
	}
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if b.NotifyTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, b.NotifyTimeout)
		}
		err := n.Notify(callCtx, ev)
		cancel()
		if err != nil && log != nil {
			log.Warn().Err(err).
				Str("topic", ev.Topic).
				Str("aggregate_id", ev.AggregateID).
				Str("event_id", ev.ID.String()).
				Msg("event notifier failed")
		}
	}
}

// marshal accepts raw JSON as-is and encodes anything else; nil becomes {}.
func marshal(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), raw...), nil
}
