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

	"github.com/rabbitmq/amqp091-go"

	"payretry/internal/types"
)

// amqpChannel is the subset of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable topic exchange with the event
// type as routing key, so consumers bind to patterns like "retry.attempt.*".
type AMQPPublisher struct {
	exchange string
	reopen   func() (amqpChannel, error)
	closeFn  func() error
	logger   types.Logger

	mu sync.Mutex
	ch amqpChannel
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(rawURL, exchange string, logger types.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	reopen := func() (amqpChannel, error) { return conn.Channel() }
	p, err := newAMQPPublisher(exchange, reopen, conn.Close, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(exchange string, reopen func() (amqpChannel, error), closeFn func() error, logger types.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{exchange: exchange, reopen: reopen, closeFn: closeFn, logger: logger}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

func (p *AMQPPublisher) open() (amqpChannel, error) {
	ch, err := p.reopen()
	if err != nil {
		return nil, fmt.Errorf("events: open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", p.exchange, err)
	}
	return ch, nil
}

// Publish implements types.EventPublisher. A failed publish reopens the
// channel once and retries.
func (p *AMQPPublisher) Publish(ctx context.Context, evt types.LifecycleEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: failed to marshal %s: %w", evt.Type, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    evt.ID,
		Timestamp:    evt.OccurredAt,
		Type:         evt.Type,
		Headers:      amqp091.Table{"organisation_id": evt.OrganisationID},
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg)
	if err == nil {
		return nil
	}
	p.logger.Warn("amqp publish failed; reopening channel", "event_type", evt.Type, "error", err)
	ch, openErr := p.open()
	if openErr != nil {
		return errors.Join(err, openErr)
	}
	p.ch.Close()
	p.ch = ch
	if err := p.ch.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.closeFn != nil {
		err = errors.Join(err, p.closeFn())
	}
	return err
}

// sanitizeAMQPURL trims quotes and whitespace that secret stores tend to
// leave around connection strings.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("events: invalid AMQP URL: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("events: AMQP scheme must be amqp:// or amqps://")
	}
	return clean, nil
}

var _ types.EventPublisher = (*AMQPPublisher)(nil)
