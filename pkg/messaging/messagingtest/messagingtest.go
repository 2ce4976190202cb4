// Package messagingtest provides in-memory brokers for tests.
package messagingtest

import (
	"context"
	"sync"

	"github.com/baechuer/event-booking/pkg/messaging"
)

// Delivery records how it was settled.
type Delivery struct {
	rec messaging.Record

	mu       sync.Mutex
	acked    bool
	nacked   bool
	requeued bool
	settled  chan struct{}
}

func NewDelivery(rec messaging.Record) *Delivery {
	return &Delivery{rec: rec, settled: make(chan struct{})}
}

func (d *Delivery) Record() messaging.Record { return d.rec }

func (d *Delivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acked && !d.nacked {
		d.acked = true
		close(d.settled)
	}
	return nil
}

func (d *Delivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.acked && !d.nacked {
		d.nacked = true
		d.requeued = requeue
		close(d.settled)
	}
	return nil
}

func (d *Delivery) Settled() <-chan struct{} { return d.settled }

func (d *Delivery) Acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

func (d *Delivery) Requeued() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nacked && d.requeued
}

// Source hands out deliveries pushed with Push, per topic.
type Source struct {
	mu     sync.Mutex
	queues map[string]chan *Delivery
}

func NewSource() *Source {
	return &Source{queues: map[string]chan *Delivery{}}
}

func (s *Source) queue(topic string) chan *Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[topic]
	if !ok {
		q = make(chan *Delivery, 256)
		s.queues[topic] = q
	}
	return q
}

// Push enqueues a record and returns its delivery for later inspection.
func (s *Source) Push(rec messaging.Record) *Delivery {
	d := NewDelivery(rec)
	s.queue(rec.Topic) <- d
	return d
}

func (s *Source) Consume(ctx context.Context, topic string, _ int, deliver func(messaging.Delivery)) error {
	q := s.queue(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q:
			deliver(d)
		}
	}
}

// DeadLetter captures dead-lettered records.
type DeadLetter struct {
	mu      sync.Mutex
	Records []DeadRecord
	Err     error
}

type DeadRecord struct {
	Record messaging.Record
	Reason string
	Cause  error
}

func (d *DeadLetter) Send(_ context.Context, rec messaging.Record, reason string, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Records = append(d.Records, DeadRecord{Record: rec, Reason: reason, Cause: cause})
	return d.Err
}

func (d *DeadLetter) All() []DeadRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadRecord, len(d.Records))
	copy(out, d.Records)
	return out
}

// Publisher captures published messages. FailTimes makes the next n publishes fail with Err.
type Publisher struct {
	mu        sync.Mutex
	Messages  []messaging.Message
	Err       error
	FailTimes int
	calls     int
}

func (p *Publisher) Publish(_ context.Context, msg messaging.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil && (p.FailTimes == 0 || p.calls <= p.FailTimes) {
		return p.Err
	}
	p.Messages = append(p.Messages, msg)
	return nil
}

func (p *Publisher) All() []messaging.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]messaging.Message, len(p.Messages))
	copy(out, p.Messages)
	return out
}

func (p *Publisher) ByTopic(topic string) []messaging.Message {
	var out []messaging.Message
	for _, m := range p.All() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (p *Publisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
