package events

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/db"
)

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaNotifier publishes every domain event to a Kafka topic keyed by the
// aggregate id, so events for one order stay on one partition.
type KafkaNotifier struct {
	Writer  MessageWriter
	Timeout time.Duration
}

// NewKafkaWriter builds a writer for the comma separated broker list.
func NewKafkaWriter(brokers, topic string) *kafka.Writer {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
}

func (k KafkaNotifier) Notify(ctx context.Context, ev db.DomainEvent) error {
	if k.Writer == nil {
		return nil
	}
	timeout := k.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return k.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: ev.Payload,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(ev.Topic)},
			{Key: "event_id", Value: []byte(ev.ID.String())},
		},
	})
}
