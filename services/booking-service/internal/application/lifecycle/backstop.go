package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/rs/zerolog"
)

// CompletionBackstop settles bookings whose EventCompleted or EventCancelled
// message never arrived. It asks the event service for the event's current
// status and applies the same transition the message would have.
type CompletionBackstop struct {
	svc     *Service
	events  EventLookup
	lookup  retry.Policy
	horizon time.Duration
	batch   int
}

func NewCompletionBackstop(svc *Service, events EventLookup, lookup retry.Policy, horizon time.Duration, batch int) *CompletionBackstop {
	if batch <= 0 {
		batch = 500
	}
	return &CompletionBackstop{
		svc:     svc,
		events:  events,
		lookup:  lookup.Named("event.lookup"),
		horizon: horizon,
		batch:   batch,
	}
}

func (b *CompletionBackstop) Name() string { return "booking_completion_backstop" }

// Run walks every event with overdue open bookings, batch ids at a time in
// event id order, so events that stay open or are unknown never hide the
// ones after them.
func (b *CompletionBackstop) Run(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-b.horizon)
	affected := 0
	var errs []error

	var after int64
	for {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ids, err := retry.Call(ctx, b.svc.ops.Named("booking.find_overdue"), func(ctx context.Context) ([]int64, error) {
			return b.svc.repo.FindOverdueEvents(ctx, cutoff, after, b.batch)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("find overdue events after %d: %w", after, err))
			break
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			n, err := b.settle(ctx, id)
			if err != nil {
				errs = append(errs, err)
			}
			affected += n
		}

		if len(ids) < b.batch {
			break
		}
		after = ids[len(ids)-1]
	}
	return affected, errors.Join(errs...)
}

func (b *CompletionBackstop) settle(ctx context.Context, id int64) (int, error) {
	lg := zerolog.Ctx(ctx)

	ev, err := retry.Call(ctx, b.lookup, func(ctx context.Context) (EventView, error) {
		return b.events.GetEvent(ctx, id)
	})
	if errors.Is(err, ErrEventNotFound) {
		lg.Warn().Int64("event_id", id).Msg("overdue bookings reference an unknown event; skipping")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("event %d: %w", id, err)
	}

	var n int
	switch ev.Status {
	case EventCompleted:
		n, err = b.svc.completeEvent(ctx, id)
	case EventCancelled:
		n, err = b.svc.cancelEvent(ctx, contracts.EventMessage{EventID: id})
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n > 0 {
		lg.Info().
			Int64("event_id", id).
			Str("event_status", ev.Status).
			Int("bookings", n).
			Msg("backstop settled bookings")
	}
	return n, nil
}
