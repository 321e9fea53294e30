package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/temple-admission/internal/model"
)

// Relay publishes locally produced events to the fanout exchange.  Publish
// never blocks: events are queued in a bounded buffer and dropped when the
// broker cannot keep up.  Run owns the connection.
type Relay struct {
	url      string
	exchange string
	origin   string
	log      *zap.Logger

	pending chan model.Event
	dropped atomic.Int64
}

// NewRelay returns a Relay tagging every event with origin.
func NewRelay(url, exchange, origin string, buffer int, log *zap.Logger) *Relay {
	if url == "" {
		url = DefaultURL
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{url: url, exchange: exchange, origin: origin, log: log, pending: make(chan model.Event, buffer)}
}

// Origin returns the instance id stamped on published events.
func (r *Relay) Origin() string { return r.origin }

// Dropped returns how many events were discarded on a full buffer.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Publish queues ev for relaying.  Events that already carry a foreign
// origin were received from the exchange and are not sent back.
func (r *Relay) Publish(ev model.Event) {
	if ev.Origin != "" && ev.Origin != r.origin {
		return
	}
	ev.Origin = r.origin
	select {
	case r.pending <- ev:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.Warn("relay buffer full, dropping events",
				zap.String("type", string(ev.Type)),
				zap.Int64("dropped_total", r.dropped.Load()))
		}
	}
}

// Run connects to the broker and drains the buffer until ctx is done,
// reconnecting with exponential backoff.
func (r *Relay) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(r.url)
		if err != nil {
			r.log.Warn("relay: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = r.publishLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("relay: publish loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	r.log.Info("relay: connected", zap.String("exchange", r.exchange), zap.String("origin", r.origin))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr := <-closed:
			return fmt.Errorf("connection closed: %v", cerr)
		case ev := <-r.pending:
			body, err := encodeEvent(ev)
			if err != nil {
				r.log.Error("relay: dropping unencodable event", zap.Error(err))
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = ch.PublishWithContext(pctx, r.exchange, "", false, false, amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now().UTC(),
				AppId:       r.origin,
				Type:        string(ev.Type),
				Body:        body,
			})
			cancel()
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
