// Package events publishes token lifecycle events to RabbitMQ for audit
// consumers. A nil Publisher is a no-op; the token service never depends on
// broker availability.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys for token lifecycle events.
const (
	TokenIssued    = "token.issued"
	TokenRefreshed = "token.refreshed"
	TokenRevoked   = "token.revoked"
)

const exchangeName = "quartz.tokens"

// Event is the published payload. Token values never appear here; only the
// jti or the SHA-256 hash identifies the token.
type Event struct {
	Kind      string    `json:"kind"`
	ClientID  string    `json:"client_id"`
	SubjectID string    `json:"subject_id,omitempty"`
	GrantType string    `json:"grant_type,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher emits events to a topic exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials the broker and declares the exchange. Returns nil without
// error when amqpURL is empty so callers can wire it unconditionally.
func Connect(amqpURL string) (*Publisher, error) {
	if amqpURL == "" {
		return nil, nil
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &Publisher{conn: conn, channel: channel}, nil
}

// Publish emits one event. Nil receivers and broker errors are both
// tolerated; the caller only logs failures.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p == nil {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchangeName, event.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	return p.conn.Close()
}
