package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange is the topic exchange ledger events are published to.
const DefaultExchange = "ledger.events"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes events as JSON to a RabbitMQ topic exchange, routed by kind.
type AMQPNotifier struct {
	mu       sync.Mutex
	ch       publisher
	exchange string
}

// NewAMQPNotifier declares the exchange on ch and returns a notifier publishing to it.
func NewAMQPNotifier(ch *amqp.Channel, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPNotifier{ch: ch, exchange: exchange}, nil
}

// Notify publishes e with its kind as routing key.
func (n *AMQPNotifier) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.PublishWithContext(ctx, n.exchange, e.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.Kind + ":" + e.TransactionID,
		Timestamp:    e.OccurredAt,
		Type:         e.Kind,
		Body:         body,
	})
}
