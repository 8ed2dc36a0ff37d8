package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Producer holds the RabbitMQ connection and channel for publishing messages.
type Producer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
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

// NewProducer dials RabbitMQ and declares the durable topic exchange.
func NewProducer(amqpURL, exchange string, logger *slog.Logger) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &Producer{conn: conn, exchange: exchange, logger: logger}
	if err := p.reopen(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Producer) reopen() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	p.channel = ch
	return nil
}

// Publish sends body as JSON with the routing key. A failed publish reopens the
// channel and retries once.
func (p *Producer) Publish(ctx context.Context, routingKey string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         raw,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed; reopening channel", "routing_key", routingKey, "error", err)
	if rerr := p.reopen(); rerr != nil {
		return fmt.Errorf("publish %s: %w", routingKey, errors.Join(err, rerr))
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
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

// LogPublisher is used when RabbitMQ is not configured or unreachable at startup.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, _ any) error {
	p.Logger.InfoContext(ctx, "event publish skipped", "mode", "fallback", "routing_key", routingKey)
	return nil
}

func (p *LogPublisher) Close() {}

// Connect returns a RabbitMQ producer, or a LogPublisher when url is empty or
// the broker cannot be reached.
func Connect(amqpURL, exchange string, logger *slog.Logger) Publisher {
	if amqpURL == "" {
		return &LogPublisher{Logger: logger}
	}
	p, err := NewProducer(amqpURL, exchange, logger)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		return &LogPublisher{Logger: logger}
	}
	return p
}
