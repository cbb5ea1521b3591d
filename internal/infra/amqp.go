package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP bundles a broker connection and the channel used for publishing.
type AMQP struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewAMQP dials the broker and opens one channel.
func NewAMQP(url string) (*AMQP, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQP{Conn: conn, Channel: ch}, nil
}

// Close closes the channel and then the connection.
func (a *AMQP) Close() error {
	if a == nil {
		return nil
	}
	if err := a.Channel.Close(); err != nil && err != amqp.ErrClosed {
		a.Conn.Close()
		return fmt.Errorf("close amqp channel: %w", err)
	}
	return a.Conn.Close()
}
