package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const defaultPublishWait = 2 * time.Second

type PublisherConfig struct {
	URL      string
	Exchange string
	// Mandatory makes unroutable messages come back as errors instead of vanishing.
	Mandatory bool
	// PublishWait bounds the wait for a broker confirm.
	PublishWait time.Duration
}

// Publisher publishes with confirms on one lazily (re)opened channel.
// Publishes are serialised so each confirm matches its message.
type Publisher struct {
	cfg PublisherConfig
	lg  zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	confirms <-chan amqp.Confirmation
	returns  <-chan amqp.Return
	closed   bool
}

func NewPublisher(cfg PublisherConfig, lg zerolog.Logger) *Publisher {
	if cfg.PublishWait <= 0 {
		cfg.PublishWait = defaultPublishWait
	}
	return &Publisher{
		cfg: cfg,
		lg:  lg.With().Str("component", "rabbitmq_publisher").Logger(),
	}
}

var errPublisherClosed = errors.New("publisher closed")

func (p *Publisher) Publish(ctx context.Context, msg messaging.Message) error {
	err := p.publish(ctx, msg)
	metrics.RecordPublished(msg.Topic, err)
	return err
}

func (p *Publisher) publish(ctx context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fault.Permanent(errPublisherClosed)
	}
	if err := p.ensure(); err != nil {
		return fault.Transient(err)
	}

	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, msg.Topic, p.cfg.Mandatory, false, buildPublishing(msg, time.Now())); err != nil {
		p.reset()
		return fault.Transient(fmt.Errorf("publish %s: %w", msg.Topic, err))
	}

	if err := p.waitAckOrReturn(ctx, msg.Topic); err != nil {
		return err
	}
	return nil
}

func buildPublishing(msg messaging.Message, now time.Time) amqp.Publishing {
	h := copyHeaders(msg.Headers)
	if msg.Key != "" {
		h[headerKey] = msg.Key
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		Body:         msg.Body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Headers:      h,
		MessageId:    msg.MessageID,
	}
}

func (p *Publisher) waitAckOrReturn(ctx context.Context, rk string) error {
	timer := time.NewTimer(p.cfg.PublishWait)
	defer timer.Stop()

	for {
		select {
		case r, ok := <-p.returns:
			if !ok {
				p.reset()
				return fault.Transientf("publish %s: channel closed", rk)
			}
			// The confirm for a returned message still follows; drain it so the
			// next publish does not read it.
			p.drainConfirm()
			return fault.Transientf("publish returned: reply=%d text=%q exchange=%q rk=%q",
				r.ReplyCode, r.ReplyText, r.Exchange, r.RoutingKey)

		case c, ok := <-p.confirms:
			if !ok {
				p.reset()
				return fault.Transientf("publish %s: channel closed", rk)
			}
			if !c.Ack {
				return fault.Transientf("publish nacked by broker (exchange=%q rk=%q)", p.cfg.Exchange, rk)
			}
			return nil

		case <-timer.C:
			// A late confirm would be matched with the next publish.
			p.reset()
			return fault.Transientf("publish %s: no confirm within %s", rk, p.cfg.PublishWait)

		case <-ctx.Done():
			p.reset()
			return ctx.Err()
		}
	}
}

func (p *Publisher) drainConfirm() {
	t := time.NewTimer(p.cfg.PublishWait)
	defer t.Stop()
	select {
	case <-p.confirms:
	case <-t.C:
		p.reset()
	}
}

func (p *Publisher) ensure() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("publish channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returns = ch.NotifyReturn(make(chan amqp.Return, 1))

	p.lg.Info().Str("exchange", p.cfg.Exchange).Bool("mandatory", p.cfg.Mandatory).Msg("rabbitmq publisher ready (confirm enabled)")
	return nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn, p.confirms, p.returns = nil, nil, nil, nil
}

func (p *Publisher) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reset()
	return nil
}
