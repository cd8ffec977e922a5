// Package rabbitmq publishes processed queue items to a RabbitMQ direct
// exchange, routed by delivery channel.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bissquit/notification-queue/internal/domain"
	"github.com/bissquit/notification-queue/internal/pkg/rabbitmq"
	"github.com/bissquit/notification-queue/internal/queue"
	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements queue.Publisher over AMQP.
type Publisher struct {
	exchange string
	open     func() (Channel, error)

	mu sync.Mutex
	ch Channel
}

// NewPublisher declares one queue per delivery channel and returns a publisher.
func NewPublisher(manager *rabbitmq.Manager, cfg rabbitmq.Config) (*Publisher, error) {
	routing := make(map[string]string, 3)
	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelInApp} {
		routing[cfg.QueuePrefix+"."+string(ch)] = string(ch)
	}

	err := manager.DeclareTopology(rabbitmq.Topology{
		Exchange:        cfg.Exchange,
		Routing:         routing,
		DeadLetterQueue: cfg.DeadLetterQueue,
	})
	if err != nil {
		return nil, fmt.Errorf("declare topology: %w", err)
	}

	return NewPublisherWithChannel(cfg.Exchange, func() (Channel, error) {
		ch, err := manager.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}), nil
}

// NewPublisherWithChannel creates a publisher that obtains channels from open.
func NewPublisherWithChannel(exchange string, open func() (Channel, error)) *Publisher {
	return &Publisher{exchange: exchange, open: open}
}

// Publish sends the item as a persistent JSON message.
func (p *Publisher) Publish(ctx context.Context, item queue.ItemView) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(item)
	if err != nil {
		return queue.NewNonRetryableError(fmt.Errorf("marshal item: %w", err))
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    item.ID,
		Timestamp:    item.ScheduledFor,
		Type:         string(item.Type),
		Priority:     amqpPriority(item.Priority),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, err := p.open()
		if err != nil {
			return err
		}
		p.ch = ch
	}

	if err := p.ch.Publish(p.exchange, string(item.Channel), false, false, msg); err != nil {
		// A failed publish closes the AMQP channel; open a fresh one next time.
		_ = p.ch.Close()
		p.ch = nil
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	return nil
}

// Close closes the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}

func amqpPriority(p domain.Priority) uint8 {
	switch p {
	case domain.PriorityCritical:
		return 9
	case domain.PriorityHigh:
		return 6
	case domain.PriorityLow:
		return 1
	default:
		return 3
	}
}
