package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/notification-queue/internal/config"
	"github.com/bissquit/notification-queue/internal/pkg/rabbitmq"
	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/bissquit/notification-queue/internal/queue/kafka"
	queuerabbitmq "github.com/bissquit/notification-queue/internal/queue/rabbitmq"
)

// newPublisher builds the hand-off publisher selected by cfg.Kind. A nil
// publisher with a nil closer means items are only marked sent.
func newPublisher(cfg config.PublisherConfig) (queue.Publisher, func() error, error) {
	switch cfg.Kind {
	case "", config.PublisherNone:
		slog.Warn("no publisher configured: dispatched items are marked sent without hand-off")
		return nil, nil, nil

	case config.PublisherRabbitMQ:
		manager, err := rabbitmq.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, nil, err
		}

		publisher, err := queuerabbitmq.NewPublisher(manager, rabbitmq.Config{
			URL:             cfg.RabbitMQ.URL,
			Exchange:        cfg.RabbitMQ.Exchange,
			QueuePrefix:     cfg.RabbitMQ.QueuePrefix,
			DeadLetterQueue: cfg.RabbitMQ.DeadLetterQueue,
		})
		if err != nil {
			_ = manager.Close()
			return nil, nil, err
		}

		slog.Info("rabbitmq publisher configured", "exchange", cfg.RabbitMQ.Exchange)
		return publisher, func() error {
			return errors.Join(publisher.Close(), manager.Close())
		}, nil

	case config.PublisherKafka:
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, err
		}

		slog.Info("kafka publisher configured", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
		return publisher, publisher.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown publisher kind %q", cfg.Kind)
	}
}
