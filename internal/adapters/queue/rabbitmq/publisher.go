package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	exchangeName = "sms"
	queueName    = "sms.attempts"
	routingKey   = "sms.attempt"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher mirrors send attempts to RabbitMQ as AttemptEvent JSON.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pub     publishChannel
	log     zerolog.Logger
}

// NewPublisher dials RabbitMQ, declares the exchange and queue, and binds them.
func NewPublisher(amqpURL string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
		pub:     ch,
		log:     log.With().Str("component", "event_publisher").Logger(),
	}, nil
}

// ForRun returns a ResultSink that publishes the results of one run,
// numbering them in write order.
func (p *Publisher) ForRun(runID uuid.UUID) ports.ResultSink {
	p.log.Debug().Str("run_id", runID.String()).Str("exchange", exchangeName).Msg("mirroring attempts")
	return &runSink{pub: p.pub, runID: runID}
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type runSink struct {
	pub   publishChannel
	runID uuid.UUID

	mu  sync.Mutex
	seq int
}

func (s *runSink) Write(ctx context.Context, result domain.SendAttemptResult, _ domain.Recipient) error {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	ev := ports.NewAttemptEvent(s.runID, seq, result)
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal attempt event: %w", err)
	}

	return s.pub.PublishWithContext(
		ctx,
		exchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s/%d", s.runID, seq),
			Timestamp:    result.SentAt,
			Body:         body,
		},
	)
}

// declare idempotently sets up the exchange, queue, and binding.
func declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}
