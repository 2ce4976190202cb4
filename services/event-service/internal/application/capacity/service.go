// Package capacity keeps each event's seat counter in step with booking
// confirmations and cancellations.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/rs/zerolog"
)

// Invalidator drops cached reads of events that changed.
type Invalidator interface {
	Forget(ctx context.Context, ids ...int64)
}

type Service struct {
	repo     event.EventRepo
	clock    event.Clock
	ops      retry.Policy
	cache    Invalidator
	producer string
}

func New(repo event.EventRepo, clock event.Clock, ops retry.Policy, cache Invalidator, producer string) *Service {
	return &Service{repo: repo, clock: clock, ops: ops, cache: cache, producer: producer}
}

func (s *Service) Routes() []messaging.Route {
	return []messaging.Route{
		{Kind: topics.BookingConfirmed, Handler: handler(s.BookingConfirmed)},
		{Kind: topics.BookingCancelled, Handler: handler(s.BookingCancelled)},
	}
}

func handler(fn func(context.Context, contracts.BookingMessage) error) messaging.Handler {
	return messaging.JSON(func(ctx context.Context, _ messaging.Record, env contracts.Envelope[contracts.BookingMessage]) error {
		return fn(ctx, env.Payload)
	})
}

// Outcome is what a confirmation did to the event.
type Outcome string

const (
	OutcomeClaimed     Outcome = "claimed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeUnavailable Outcome = "unavailable"
)

func (s *Service) BookingConfirmed(ctx context.Context, msg contracts.BookingMessage) error {
	_, err := s.Confirm(ctx, msg)
	return err
}

// Confirm takes a seat for the booking, or announces BookingEventUnavailable
// when the event is full, cancelled or over. A booking that already holds a
// seat is left alone.
func (s *Service) Confirm(ctx context.Context, msg contracts.BookingMessage) (Outcome, error) {
	lg := zerolog.Ctx(ctx).With().
		Int64("event_id", msg.EventID).
		Int64("booking_id", msg.BookingID).
		Logger()

	outcome, err := retry.Call(ctx, s.ops.Named("event.claim_seat"), func(ctx context.Context) (Outcome, error) {
		var outcome Outcome
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx event.TxEventRepo, out *messaging.Outbound) error {
			ev, err := tx.Lock(ctx, msg.EventID)
			if err != nil {
				return err
			}

			held, err := tx.HasClaim(ctx, ev.ID, msg.BookingID)
			if err != nil {
				return err
			}
			if held {
				outcome = OutcomeDuplicate
				return nil
			}

			now := s.clock.Now()
			if !ev.Bookable(now) || !ev.ClaimSeat(now) {
				m, err := messaging.NewMessage(topics.BookingEventUnavailable, s.producer, contracts.BookingMessage{
					BookingID: msg.BookingID,
					Email:     msg.Email,
					Username:  msg.Username,
					EventID:   msg.EventID,
					Message:   unavailableText(ev, now),
				}, now)
				if err != nil {
					return fault.Permanent(err)
				}
				out.Emit(m)
				outcome = OutcomeUnavailable
				return nil
			}

			if _, err := tx.InsertClaim(ctx, ev.ID, msg.BookingID, now); err != nil {
				return err
			}
			if err := tx.Save(ctx, ev); err != nil {
				return err
			}
			outcome = OutcomeClaimed
			return nil
		})
		return outcome, err
	})
	if err != nil {
		return "", s.wrap("confirm", msg, err)
	}

	if outcome == OutcomeClaimed {
		s.forget(ctx, msg.EventID)
	}
	lg.Info().Str("outcome", string(outcome)).Msg("booking confirmation applied")
	return outcome, nil
}

// BookingCancelled gives the seat back, but only for a booking that held one,
// so a redelivered cancellation cannot over-credit the event.
func (s *Service) BookingCancelled(ctx context.Context, msg contracts.BookingMessage) error {
	released, err := retry.Call(ctx, s.ops.Named("event.release_seat"), func(ctx context.Context) (bool, error) {
		released := false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx event.TxEventRepo, _ *messaging.Outbound) error {
			ev, err := tx.Lock(ctx, msg.EventID)
			if err != nil {
				return err
			}
			deleted, err := tx.DeleteClaim(ctx, ev.ID, msg.BookingID)
			if err != nil || !deleted {
				return err
			}
			ev.ReleaseSeat(s.clock.Now())
			if err := tx.Save(ctx, ev); err != nil {
				return err
			}
			released = true
			return nil
		})
		return released, err
	})
	if err != nil {
		return s.wrap("release", msg, err)
	}

	lg := zerolog.Ctx(ctx)
	if released {
		s.forget(ctx, msg.EventID)
		lg.Info().Int64("event_id", msg.EventID).Int64("booking_id", msg.BookingID).Msg("seat released")
	} else {
		lg.Debug().Int64("event_id", msg.EventID).Int64("booking_id", msg.BookingID).Msg("no seat held; nothing to release")
	}
	return nil
}

func (s *Service) wrap(action string, msg contracts.BookingMessage, err error) error {
	err = fmt.Errorf("%s seat event=%d booking=%d: %w", action, msg.EventID, msg.BookingID, err)
	if errors.Is(err, domain.ErrEventNotFound) {
		return fault.Permanent(err)
	}
	return err
}

func (s *Service) forget(ctx context.Context, id int64) {
	if s.cache != nil {
		s.cache.Forget(ctx, id)
	}
}

func unavailableText(ev domain.Event, now time.Time) string {
	switch ev.DerivedStatus(now) {
	case domain.StatusCancelled:
		return fmt.Sprintf("Event %d has been cancelled.", ev.ID)
	case domain.StatusCompleted:
		return fmt.Sprintf("Event %d has already finished.", ev.ID)
	default:
		return fmt.Sprintf("Event %d is fully booked.", ev.ID)
	}
}
