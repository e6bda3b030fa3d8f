package app

import (
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/config"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/events"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/notify"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/queue"
)

// Enqueuer returns the redis task queue producer.
func Enqueuer(cfg *config.Config, rdb *redis.Client) queue.Enqueuer {
	return queue.Enqueuer{
		R:           rdb,
		Prefix:      cfg.Queue.Prefix,
		DedupTTL:    24 * time.Hour,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}
}

// EventBus persists domain events and fans them out to the e-mail queue and,
// when brokers are configured, Kafka. The returned func closes the writer.
func EventBus(cfg *config.Config, store events.EventStore, rdb *redis.Client, logger zerolog.Logger) (*events.Bus, func()) {
	notifiers := []events.Notifier{notify.EmailNotifier{
		Queue:       Enqueuer(cfg, rdb),
		Enabled:     cfg.SMTP.Enabled(),
		MaxAttempts: cfg.Queue.MaxAttempts,
	}}
	closeFn := func() {}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewKafkaWriter(strings.Join(cfg.Kafka.Brokers, ","), cfg.Kafka.Topic)
		notifiers = append(notifiers, events.KafkaNotifier{Writer: writer, Timeout: 2 * time.Second})
		closeFn = func() {
			if err := writer.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka writer")
			}
		}
	}
	return &events.Bus{Store: store, Notifiers: notifiers, Logger: ChildLogger(logger, "events"), NotifyTimeout: 5 * time.Second}, closeFn
}

var _ events.MessageWriter = (*kafka.Writer)(nil)
