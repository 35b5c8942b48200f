package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"bulksms/internal/ports"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Consumer implements ports.EventConsumer using RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     zerolog.Logger
}

var _ ports.EventConsumer = (*Consumer)(nil)

// NewConsumer dials RabbitMQ, declares topology, and returns a Consumer.
func NewConsumer(amqpURL string, prefetch int, log zerolog.Logger) (*Consumer, error) {
	if prefetch <= 0 {
		prefetch = 1
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		log:     log.With().Str("component", "event_consumer").Logger(),
	}, nil
}

// Consume registers a consumer on the queue and calls handler for each delivery.
// It acknowledges the message only if the handler returns nil.
// It blocks until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, handler func(ctx context.Context, ev ports.AttemptEvent) error) error {
	deliveries, err := c.channel.Consume(
		queueName,
		"",    // auto-generated consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return consumeLoop(ctx, deliveries, handler, c.log)
}

func consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler func(ctx context.Context, ev ports.AttemptEvent) error, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			var ev ports.AttemptEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				log.Error().Err(err).Str("message_id", d.MessageId).Msg("unmarshal attempt event")
				_ = d.Nack(false, false) // malformed payloads are never requeued
				continue
			}

			if err := handler(ctx, ev); err != nil {
				log.Error().Err(err).Str("run_id", ev.RunID.String()).Int("seq", ev.Seq).Msg("handle attempt event")
				_ = d.Nack(false, true)
				continue
			}

			_ = d.Ack(false)
		}
	}
}

// Close cleanly shuts down the channel and connection.
func (c *Consumer) Close() error {
	c.channel.Close()
	return c.conn.Close()
}
