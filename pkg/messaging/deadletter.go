package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/baechuer/event-booking/pkg/metrics"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/rs/zerolog"
)

const (
	HeaderOrigTopic = "x-orig-topic"
	HeaderPartition = "x-partition"
	HeaderOffset    = "x-offset"
	HeaderReason    = "x-dlt-reason"
	HeaderError     = "x-error"
	HeaderConsumer  = "x-consumer"
	HeaderFailedAt  = "x-failed-at"

	maxErrorHeader = 1024
)

// DeadLetterPublisher republishes failed records, body and key unchanged, to
// <topic>-dlt. It tries a bounded number of times and only logs when it gives up.
type DeadLetterPublisher struct {
	pub     Publisher
	service string
	policy  retry.Policy
	lg      zerolog.Logger
	now     func() time.Time
}

func NewDeadLetterPublisher(pub Publisher, service string, lg zerolog.Logger) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		pub:     pub,
		service: service,
		policy: retry.Policy{
			Name:        "dead_letter",
			MaxAttempts: 2,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.5,
			Timeout:     3 * time.Second,
			Retryable:   func(error) bool { return true },
		},
		lg:  lg.With().Str("component", "dead_letter_publisher").Logger(),
		now: time.Now,
	}
}

func (p *DeadLetterPublisher) Send(ctx context.Context, rec Record, reason string, cause error) error {
	msg := p.message(rec, reason, cause)

	err := p.policy.Do(ctx, func(ctx context.Context) error {
		return p.pub.Publish(ctx, msg)
	})
	metrics.RecordDeadLetter(rec.Topic, reason)
	if err != nil {
		metrics.RecordDeadLetterFailed(rec.Topic)
		p.lg.Error().Err(err).
			Str("topic", rec.Topic).
			Str("key", rec.Key).
			Str("message_id", rec.ID()).
			Str("reason", reason).
			Msg("dead-letter publish failed; record is lost from the main topic")
		return fmt.Errorf("dead-letter %s: %w", msg.Topic, err)
	}

	p.lg.Warn().
		Str("topic", rec.Topic).
		Str("dlt", msg.Topic).
		Str("key", rec.Key).
		Str("reason", reason).
		Msg("record dead-lettered")
	return nil
}

func (p *DeadLetterPublisher) message(rec Record, reason string, cause error) Message {
	h := make(map[string]any, len(rec.Headers)+7)
	for k, v := range rec.Headers {
		h[k] = v
	}
	h[HeaderOrigTopic] = rec.Topic
	h[HeaderPartition] = strconv.Itoa(rec.Partition)
	h[HeaderOffset] = strconv.FormatInt(rec.Offset, 10)
	h[HeaderReason] = reason
	h[HeaderConsumer] = p.service
	h[HeaderFailedAt] = p.now().UTC().Format(time.RFC3339)
	if cause != nil {
		e := cause.Error()
		if len(e) > maxErrorHeader {
			e = e[:maxErrorHeader]
		}
		h[HeaderError] = e
	}

	return Message{
		Topic:     topics.DeadLetter(rec.Topic),
		Key:       rec.Key,
		MessageID: rec.MessageID,
		Headers:   h,
		Body:      rec.Body,
	}
}
