package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type SubscriberConfig struct {
	URL      string
	Exchange string
	Service  string
}

// Subscriber is a messaging.Source over RabbitMQ. Each consumed topic gets its
// own connection, kept open after consuming stops so in-flight deliveries can
// still be settled; Close releases them all.
type Subscriber struct {
	cfg SubscriberConfig
	lg  zerolog.Logger

	mu    sync.Mutex
	conns map[*amqp.Connection]struct{}

	dial func(url string) (*amqp.Connection, error)
}

func NewSubscriber(cfg SubscriberConfig, lg zerolog.Logger) *Subscriber {
	return &Subscriber{
		cfg:   cfg,
		lg:    lg.With().Str("component", "rabbitmq_subscriber").Logger(),
		conns: map[*amqp.Connection]struct{}{},
		dial:  amqp.Dial,
	}
}

var errPrecondition = errors.New("rabbitmq topology precondition failed")

// Consume supervises one topic: connect, declare, consume, and reconnect with
// capped backoff when the connection drops.
func (s *Subscriber) Consume(ctx context.Context, topic string, prefetch int, deliver func(messaging.Delivery)) error {
	lg := s.lg.With().Str("topic", topic).Logger()
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, ch, dlv, tag, err := s.open(topic, prefetch)
		if err != nil {
			if isPreconditionFailed(err) {
				lg.Error().Err(err).Msg("FATAL: topology precondition failed. Delete and recreate MQ resources, then restart.")
				return fmt.Errorf("%w: %v", errPrecondition, err)
			}
			lg.Error().Err(err).Dur("backoff", backoff).Msg("connect failed; retrying")
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		if stopped := s.pump(ctx, dlv, topic, deliver); stopped {
			// Stop new deliveries; keep the connection for pending acks.
			if err := ch.Cancel(tag, false); err != nil {
				lg.Warn().Err(err).Msg("basic.cancel failed")
			}
			return nil
		}

		lg.Warn().Dur("backoff", backoff).Msg("deliveries closed; reconnecting")
		s.release(conn)
		if !sleepOrDone(ctx, backoff) {
			return nil
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

// pump forwards deliveries until ctx ends (true) or the channel closes (false).
func (s *Subscriber) pump(ctx context.Context, dlv <-chan amqp.Delivery, topic string, deliver func(messaging.Delivery)) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-dlv:
			if !ok {
				return false
			}
			deliver(newDelivery(d, topic))
		}
	}
}

func (s *Subscriber) open(topic string, prefetch int) (*amqp.Connection, *amqp.Channel, <-chan amqp.Delivery, string, error) {
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return nil, nil, nil, "", fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, "", fmt.Errorf("consume channel: %w", err)
	}

	q, err := declareTopology(ch, s.cfg.Exchange, s.cfg.Service, topic)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, "", err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = conn.Close()
			return nil, nil, nil, "", fmt.Errorf("qos: %w", err)
		}
	}

	tag := s.cfg.Service + ":" + topic
	dlv, err := ch.Consume(q, tag, false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, "", fmt.Errorf("consume: %w", err)
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.lg.Info().
		Str("exchange", s.cfg.Exchange).
		Str("queue", q).
		Int("prefetch", prefetch).
		Msg("rabbitmq subscription ready")
	return conn, ch, dlv, tag, nil
}

func (s *Subscriber) release(conn *amqp.Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Subscriber) Close(_ context.Context) error {
	s.mu.Lock()
	conns := s.conns
	s.conns = map[*amqp.Connection]struct{}{}
	s.mu.Unlock()

	var errs []error
	for c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// delivery adapts amqp.Delivery to messaging.Delivery.
type delivery struct {
	d     amqp.Delivery
	topic string
}

func newDelivery(d amqp.Delivery, topic string) *delivery {
	return &delivery{d: d, topic: topic}
}

func (d *delivery) Record() messaging.Record {
	headers := make(map[string]any, len(d.d.Headers))
	for k, v := range d.d.Headers {
		headers[k] = v
	}
	return messaging.Record{
		Topic:       d.topic,
		Key:         headerString(d.d.Headers, headerKey),
		MessageID:   d.d.MessageId,
		Headers:     headers,
		Body:        d.d.Body,
		Offset:      int64(d.d.DeliveryTag),
		Redelivered: d.d.Redelivered,
	}
}

func (d *delivery) Ack() error { return d.d.Ack(false) }

func (d *delivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }
