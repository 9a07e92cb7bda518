package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/metrics"
)

// ConsumerConfig configures the sample batch consumer.
type ConsumerConfig struct {
	URL            string
	Exchange       string
	Queue          string
	RoutingKey     string
	Prefetch       int
	ReconnectDelay time.Duration
}

// Consumer reads SampleBatch messages from a durable queue bound to a topic
// exchange. Deliveries are handled in order so that samples of one sensor
// are appended in time order.
type Consumer struct {
	cfg       ConsumerConfig
	handler   *BatchHandler
	logger    *zap.Logger
	connected atomic.Bool
}

// NewConsumer creates a consumer; call Run to start it.
func NewConsumer(cfg ConsumerConfig, handler *BatchHandler, logger *zap.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{cfg: cfg, handler: handler, logger: logger.Named("amqp-consumer")}
}

// Connected reports whether the consumer currently holds a broker session.
func (c *Consumer) Connected() bool { return c.connected.Load() }

// Run consumes until ctx is cancelled, reconnecting after broker failures.
func (c *Consumer) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay
	for {
		err := c.consume(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("amqp session ended, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < time.Minute {
			delay *= 2
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", c.cfg.Queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	c.connected.Store(true)
	c.logger.Info("amqp consumer started",
		zap.String("exchange", c.cfg.Exchange),
		zap.String("queue", c.cfg.Queue),
		zap.String("routing_key", c.cfg.RoutingKey),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("amqp consumer shutting down")
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.process(ctx, d)
		}
	}
}

// process handles one delivery and settles it: ack on success, drop on
// permanent failure, requeue otherwise (once; redeliveries are dropped).
func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	n, err := c.handler.Handle(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Warn("failed to ack delivery", zap.Error(ackErr))
		}
		metrics.AMQPDeliveries.WithLabelValues("ack").Inc()
		c.logger.Debug("batch ingested", zap.Int("samples", n))
	case errors.Is(err, ErrRejected) || d.Redelivered:
		c.logger.Warn("dropping batch", zap.Error(err), zap.Bool("redelivered", d.Redelivered))
		_ = d.Reject(false)
		metrics.AMQPDeliveries.WithLabelValues("reject").Inc()
	default:
		c.logger.Warn("requeueing batch", zap.Error(err))
		_ = d.Nack(false, true)
		metrics.AMQPDeliveries.WithLabelValues("nack").Inc()
	}
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}
