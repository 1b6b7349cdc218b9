package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"wohnwatch/config"
	"wohnwatch/models"
)

const routingKeyFresh = "listings.fresh"

// FreshListingsEvent is the message body published for every notified batch.
type FreshListingsEvent struct {
	Email       string           `json:"email"`
	Count       int              `json:"count"`
	Listings    []models.Listing `json:"listings"`
	PublishedAt time.Time        `json:"publishedAt"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes fresh listings to a topic exchange so other services can react.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
	now      func() time.Time
}

func NewAMQPNotifier(cfg config.AMQPConfig) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", cfg.Exchange, err)
	}

	log.Printf("AMQP notifier publishing to exchange %q", cfg.Exchange)
	return &AMQPNotifier{conn: conn, channel: ch, exchange: cfg.Exchange, now: time.Now}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, email string, listings []models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	if n.conn != nil && n.conn.IsClosed() {
		return fmt.Errorf("amqp connection is closed")
	}

	now := n.now()
	body, err := json.Marshal(FreshListingsEvent{
		Email:       email,
		Count:       len(listings),
		Listings:    listings,
		PublishedAt: now,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(publishCtx, n.exchange, routingKeyFresh, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", n.exchange, err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
