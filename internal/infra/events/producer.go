// Package events publishes domain events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/boddenberg/bankfeed-sync/internal/domain"
	"github.com/boddenberg/bankfeed-sync/internal/port"
)

var _ port.EventPublisher = (*Producer)(nil)

// Producer publishes JSON events to a durable topic exchange.
// A single channel is shared, so publishes are serialised.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer dials RabbitMQ and declares the exchange.
func NewProducer(amqpURL, exchange string, logger *zap.Logger) (*Producer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	p := &Producer{conn: conn, exchange: exchange, logger: logger}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel must be called with mu held (or before the producer is shared).
func (p *Producer) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

// Publish marshals payload and sends it with the given routing key. A closed
// channel is reopened once before giving up.
func (p *Producer) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed, reopening channel",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	if reopenErr := p.openChannel(); reopenErr != nil {
		return &domain.ErrExternalService{Service: "rabbitmq", Err: errors.Join(err, reopenErr)}
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
	}
	return nil
}

// Close gracefully closes the channel and connection.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Fallback is a no-op publisher used when RabbitMQ is not configured or
// unreachable at startup.
type Fallback struct {
	logger *zap.Logger
}

var _ port.EventPublisher = (*Fallback)(nil)

// NewFallback creates a publisher that only logs at debug level.
func NewFallback(logger *zap.Logger) *Fallback {
	return &Fallback{logger: logger}
}

func (f *Fallback) Publish(_ context.Context, routingKey string, _ any) error {
	f.logger.Debug("event publish skipped", zap.String("routing_key", routingKey))
	return nil
}

func (f *Fallback) Close() {}

// Recorder keeps published events in memory. It backs tests and local runs
// that want to inspect emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	RoutingKey string
	Payload    any
}

var _ port.EventPublisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, routingKey string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{RoutingKey: routingKey, Payload: payload})
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events were published with routingKey.
func (r *Recorder) Count(routingKey string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.RoutingKey == routingKey {
			n++
		}
	}
	return n
}
