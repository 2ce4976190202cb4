package messaging

import (
	"context"
	"fmt"

	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/rs/zerolog"
)

// Outbound collects the messages a unit of work wants sent. Emit messages are
// tied to the commit: they are sent (or stored in the outbox) before it, and a
// failure rolls the work back. EmitAfterCommit messages go out once the work is
// committed and their failure is only logged.
type Outbound struct {
	commit []Message
	after  []Message
}

func (o *Outbound) Emit(msg Message) { o.commit = append(o.commit, msg) }

func (o *Outbound) EmitAfterCommit(msg Message) { o.after = append(o.after, msg) }

func (o *Outbound) Committed() []Message { return o.commit }

func (o *Outbound) AfterCommit() []Message { return o.after }

func (o *Outbound) Len() int { return len(o.commit) + len(o.after) }

// Relay publishes outbound messages under a retry policy.
type Relay struct {
	Pub    Publisher
	Policy retry.Policy
	Logger zerolog.Logger
}

// PublishAll stops at the first message that cannot be published.
func (r Relay) PublishAll(ctx context.Context, msgs []Message) error {
	for _, m := range msgs {
		m := m
		if err := r.Policy.Do(ctx, func(ctx context.Context) error {
			return r.Pub.Publish(ctx, m)
		}); err != nil {
			return fmt.Errorf("publish %s key=%s: %w", m.Topic, m.Key, err)
		}
	}
	return nil
}

// PublishBestEffort publishes every message and logs the ones that fail.
func (r Relay) PublishBestEffort(ctx context.Context, msgs []Message) int {
	failed := 0
	for _, m := range msgs {
		m := m
		if err := r.Policy.Do(ctx, func(ctx context.Context) error {
			return r.Pub.Publish(ctx, m)
		}); err != nil {
			failed++
			r.Logger.Error().Err(err).
				Str("topic", m.Topic).
				Str("key", m.Key).
				Str("message_id", m.MessageID).
				Msg("publish after commit failed; state is committed, message not sent")
		}
	}
	return failed
}
