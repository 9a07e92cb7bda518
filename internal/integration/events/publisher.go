package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics"
	"github.com/kubilitics/sensordx/internal/metrics"
)

const publishTimeout = 5 * time.Second

// publishChannel is the subset of *amqp.Channel used for publishing.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends completed diagnoses to the topic exchange under
// "<routing key>.<status>", e.g. "diagnoses.fault".
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         publishChannel
	dial       func() (*amqp.Connection, publishChannel, error)
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// DialPublisher connects to the broker and declares the exchange.
func DialPublisher(url, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	dial := func() (*amqp.Connection, publishChannel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		if err := declareExchange(ch, exchange); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return conn, ch, nil
	}
	conn, ch, err := dial()
	if err != nil {
		return nil, err
	}
	p := newPublisher(ch, exchange, routingKey, logger)
	p.conn = conn
	p.dial = dial
	return p, nil
}

func newPublisher(ch publishChannel, exchange, routingKey string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger.Named("amqp-publisher"),
	}
}

// RoutingKey returns the key a diagnosis is published under.
func (p *Publisher) RoutingKey(ev analytics.DiagnosisEvent) string {
	status := "unknown"
	if ev.Result != nil && ev.Result.Status != "" {
		status = strings.ToLower(string(ev.Result.Status))
	}
	return p.routingKey + "." + status
}

// Publish sends one diagnosis. A closed channel is redialled once.
func (p *Publisher) Publish(ctx context.Context, ev analytics.DiagnosisEvent) error {
	body, err := json.Marshal(ev.API())
	if err != nil {
		return fmt.Errorf("failed to marshal diagnosis %s: %w", ev.ID, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Type:         "sensordx.diagnosis",
		Body:         body,
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.RoutingKey(ev)
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if err != nil && p.dial != nil {
		p.logger.Warn("publish failed, redialling", zap.Error(err))
		if rerr := p.redialLocked(); rerr == nil {
			err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
		}
	}
	if err != nil {
		metrics.AMQPPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish diagnosis %s: %w", ev.ID, err)
	}
	metrics.AMQPPublished.WithLabelValues("ok").Inc()
	return nil
}

func (p *Publisher) redialLocked() error {
	_ = p.ch.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	conn, ch, err := p.dial()
	if err != nil {
		return err
	}
	p.conn, p.ch = conn, ch
	return nil
}

// Sink adapts the publisher to a pipeline result sink.
func (p *Publisher) Sink() analytics.ResultSink {
	return func(ctx context.Context, ev analytics.DiagnosisEvent) {
		if err := p.Publish(context.WithoutCancel(ctx), ev); err != nil {
			p.logger.Warn("diagnosis not published", zap.String("diagnosis_id", ev.ID), zap.Error(err))
		}
	}
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
