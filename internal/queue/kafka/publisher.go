// Package kafka publishes processed queue items to a Kafka topic keyed by user.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/bissquit/notification-queue/internal/queue"
)

// Config contains Kafka producer settings.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Publisher implements queue.Publisher on a synchronous producer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher connects a synchronous producer to the brokers.
func NewPublisher(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.Topic), nil
}

// NewPublisherWithProducer wraps an existing producer.
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish sends the item as JSON. Items of one user land on one partition.
func (p *Publisher) Publish(ctx context.Context, item queue.ItemView) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(item)
	if err != nil {
		return queue.NewNonRetryableError(fmt.Errorf("marshal item: %w", err))
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(item.UserID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("item_id"), Value: []byte(item.ID)},
			{Key: []byte("channel"), Value: []byte(item.Channel)},
			{Key: []byte("type"), Value: []byte(item.Type)},
		},
	}

	if _, _, err := p.producer.SendMessage(msg); err != nil {
		var pe *sarama.ProducerError
		if errors.As(err, &pe) && errors.Is(pe.Err, sarama.ErrMessageSizeTooLarge) {
			return queue.NewNonRetryableError(fmt.Errorf("send to %s: %w", p.topic, err))
		}
		return fmt.Errorf("send to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
