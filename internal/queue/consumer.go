package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/broadcast"
)

// Consumer feeds events published by other instances into a local sink.
type Consumer struct {
	url      string
	exchange string
	origin   string
	sink     broadcast.Publisher
	log      *zap.Logger
}

// NewConsumer returns a Consumer that ignores events stamped with origin.
func NewConsumer(url, exchange, origin string, sink broadcast.Publisher, log *zap.Logger) *Consumer {
	if url == "" {
		url = DefaultURL
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, exchange: exchange, origin: origin, sink: sink, log: log}
}

// Run binds a private queue to the exchange and consumes until ctx is done.
// Broker failures are retried with exponential backoff.
func (c *Consumer) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("relay-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("relay-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("relay-consumer: set QoS failed", zap.Error(err))
	}
	if err := ch.ExchangeDeclare(c.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	// Server-named, exclusive and auto-deleted: every instance gets its own
	// copy and nothing accumulates while an instance is down.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("relay-consumer: consuming", zap.String("exchange", c.exchange), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.log.Debug("relay-consumer: skipped message", zap.Error(err))
			}
		}
	}
}

var errOwnEvent = errors.New("event originated here")

func (c *Consumer) handleMessage(body []byte) error {
	ev, err := decodeEvent(body)
	if err != nil {
		return err
	}
	if ev.Origin == c.origin {
		return errOwnEvent
	}
	c.sink.Publish(ev)
	return nil
}
