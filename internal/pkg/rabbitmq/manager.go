// Package rabbitmq manages the AMQP connection used for delivery hand-off.
package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

// ErrClosed is returned when the manager has been closed.
var ErrClosed = errors.New("rabbitmq connection closed")

// Config contains RabbitMQ connection settings.
type Config struct {
	URL      string
	Exchange string
	// QueuePrefix names one durable queue per delivery channel: <prefix>.<channel>.
	QueuePrefix string
	// DeadLetterQueue receives messages rejected by consumers. Empty disables it.
	DeadLetterQueue string
}

// Topology describes the exchange and the queues bound to it.
type Topology struct {
	Exchange string
	// Routing maps queue name to routing key.
	Routing         map[string]string
	DeadLetterQueue string
}

// Manager maintains a single AMQP connection and declares topology.
type Manager struct {
	conn *amqp.Connection
	mu   sync.RWMutex
}

// Dial connects to the broker.
func Dial(url string) (*Manager, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	slog.Info("connected to rabbitmq")
	return &Manager{conn: conn}, nil
}

// Channel opens a new AMQP channel on the shared connection.
func (m *Manager) Channel() (*amqp.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.conn == nil {
		return nil, ErrClosed
	}
	ch, err := m.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// Close closes the connection. Calling it twice is safe.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// DeclareTopology makes sure the direct exchange and its queues exist.
func (m *Manager) DeclareTopology(topology Topology) error {
	ch, err := m.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(topology.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if topology.DeadLetterQueue != "" {
		if _, err := ch.QueueDeclare(topology.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead letter queue: %w", err)
		}
	}

	for queue, key := range topology.Routing {
		args := amqp.Table{}
		if topology.DeadLetterQueue != "" {
			args["x-dead-letter-exchange"] = ""
			args["x-dead-letter-routing-key"] = topology.DeadLetterQueue
		}

		if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, key, topology.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	slog.Info("rabbitmq topology declared",
		"exchange", topology.Exchange,
		"queues", len(topology.Routing),
	)
	return nil
}
