// Package messaging is the broker-neutral half of consuming and producing:
// records, handlers, the partitioned consumer engine and the lifecycle registry.
package messaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/topics"
)

// Record is one inbound message as the engine and handlers see it.
type Record struct {
	Topic     string
	Key       string
	MessageID string
	Headers   map[string]any
	Body      []byte

	// Partition is the in-process partition the record was dispatched to.
	Partition int
	// Offset is the broker's position for the record (AMQP delivery tag).
	Offset      int64
	Redelivered bool
}

// ID returns the message id, or a stable content hash when the producer sent none.
func (r Record) ID() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	sum := sha256.Sum256([]byte(r.Topic + "\n" + string(r.Body)))
	return "hash:" + hex.EncodeToString(sum[:])
}

// Delivery is a record plus the means to settle it with the broker.
type Delivery interface {
	Record() Record
	Ack() error
	Nack(requeue bool) error
}

// Source feeds deliveries for one topic into deliver until ctx is cancelled.
// It returns nil on cancellation and an error only when consuming cannot
// continue. Deliveries handed out stay settleable after Consume returns.
type Source interface {
	Consume(ctx context.Context, topic string, prefetch int, deliver func(Delivery)) error
}

// DeadLetterSink takes records that will not be retried.
type DeadLetterSink interface {
	Send(ctx context.Context, rec Record, reason string, cause error) error
}

// Message is one outbound message.
type Message struct {
	Topic     string
	Key       string
	MessageID string
	Headers   map[string]any
	Body      []byte
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// NewMessage wraps payload in an envelope and addresses it to kind's topic,
// keyed by the payload's entity id.
func NewMessage[T contracts.Keyed](kind topics.Kind, producer string, payload T, now time.Time) (Message, error) {
	topic := topics.Name(kind)
	if topic == "" {
		return Message{}, fmt.Errorf("unknown message kind %q", kind)
	}
	env := contracts.NewEnvelope(producer, payload, now)
	body, err := contracts.Encode(env)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     topic,
		Key:       payload.Key(),
		MessageID: env.MessageID,
		Body:      body,
	}, nil
}
