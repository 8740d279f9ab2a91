// Package events fans domain events out to RabbitMQ so other systems can
// follow queue activity. Publishing is best-effort everywhere: a broker
// outage never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingKeyEscalated = "conversation.escalated"
	RoutingKeyClaimed   = "conversation.claimed"
	RoutingKeyReleased  = "conversation.released"
	RoutingKeyResolved  = "conversation.resolved"
	RoutingKeyApproved  = "recommendation.approved"
)

type Event struct {
	ConversationID string            `json:"conversationId"`
	OperatorID     string            `json:"operatorId,omitempty"`
	Priority       string            `json:"priority,omitempty"`
	OccurredAt     string            `json:"occurredAt"`
	Details        map[string]string `json:"details,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Event) error
	Close() error
}

type RabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func NewRabbitPublisher(url, exchange string, logger *zap.Logger) (*RabbitPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, event Event) error {
	if event.OccurredAt == "" {
		event.OccurredAt = time.Now().UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}

	p.logger.Debug("event published",
		zap.String("routingKey", routingKey),
		zap.String("conversationId", event.ConversationID),
	)
	return nil
}

func (p *RabbitPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// FallbackPublisher logs events instead of sending them. Used when no broker
// is configured.
type FallbackPublisher struct {
	logger *zap.Logger
}

func NewFallbackPublisher(logger *zap.Logger) *FallbackPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackPublisher{logger: logger}
}

func (p *FallbackPublisher) Publish(_ context.Context, routingKey string, event Event) error {
	p.logger.Info("event dropped, no broker configured",
		zap.String("routingKey", routingKey),
		zap.String("conversationId", event.ConversationID),
	)
	return nil
}

func (p *FallbackPublisher) Close() error {
	return nil
}
