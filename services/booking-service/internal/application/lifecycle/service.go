// Package lifecycle moves bookings through their states in response to
// booking and event messages.
package lifecycle

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
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
	"github.com/rs/zerolog"
)

type Service struct {
	repo     BookingRepo
	relay    messaging.Relay
	ops      retry.Policy
	producer string
	now      func() time.Time
}

// NewService wires the handlers. ops bounds and retries every store call;
// relay publishes the messages that are not tied to a transaction.
func NewService(repo BookingRepo, relay messaging.Relay, ops retry.Policy, producer string) *Service {
	return &Service{
		repo:     repo,
		relay:    relay,
		ops:      ops,
		producer: producer,
		now:      time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Routes lists the subscriptions this service consumes.
func (s *Service) Routes() []messaging.Route {
	return []messaging.Route{
		{Kind: topics.BookingConfirmed, Handler: bookingHandler(s.BookingConfirmed)},
		{Kind: topics.BookingEventUnavailable, Handler: bookingHandler(s.BookingEventUnavailable)},
		{Kind: topics.BookingExpired, Handler: bookingHandler(s.BookingExpired)},
		{Kind: topics.EventChanged, Handler: eventHandler(s.EventChanged)},
		{Kind: topics.EventCancelled, Handler: eventHandler(s.EventCancelled)},
		{Kind: topics.EventCompleted, Handler: eventHandler(s.EventCompleted)},
	}
}

func bookingHandler(fn func(context.Context, contracts.BookingMessage) error) messaging.Handler {
	return messaging.JSON(func(ctx context.Context, _ messaging.Record, env contracts.Envelope[contracts.BookingMessage]) error {
		return fn(ctx, env.Payload)
	})
}

func eventHandler(fn func(context.Context, contracts.EventMessage) error) messaging.Handler {
	return messaging.JSON(func(ctx context.Context, _ messaging.Record, env contracts.Envelope[contracts.EventMessage]) error {
		return fn(ctx, env.Payload)
	})
}

func (s *Service) BookingConfirmed(ctx context.Context, msg contracts.BookingMessage) error {
	return s.transition(ctx, "confirm", msg, (*domain.Booking).Confirm)
}

func (s *Service) BookingEventUnavailable(ctx context.Context, msg contracts.BookingMessage) error {
	return s.transition(ctx, "cancel_unavailable", msg, (*domain.Booking).Cancel)
}

func (s *Service) BookingExpired(ctx context.Context, msg contracts.BookingMessage) error {
	return s.transition(ctx, "expire", msg, (*domain.Booking).Expire)
}

func (s *Service) transition(ctx context.Context, action string, msg contracts.BookingMessage, apply func(*domain.Booking, time.Time) bool) error {
	lg := zerolog.Ctx(ctx).With().
		Int64("booking_id", msg.BookingID).
		Str("action", action).
		Logger()

	b, err := retry.Call(ctx, s.ops.Named("booking.load"), func(ctx context.Context) (domain.Booking, error) {
		return s.repo.Get(ctx, msg.BookingID)
	})
	if errors.Is(err, domain.ErrBookingNotFound) {
		return fault.Permanent(fmt.Errorf("%s booking %d: %w", action, msg.BookingID, err))
	}
	if err != nil {
		return fmt.Errorf("%s booking %d: load: %w", action, msg.BookingID, err)
	}
	if msg.EventID != 0 && b.EventID != msg.EventID {
		return fault.Permanent(fmt.Errorf("%s booking %d (event %d, message says %d): %w",
			action, b.ID, b.EventID, msg.EventID, domain.ErrEventMismatch))
	}

	from := b.Status
	if !apply(&b, s.now()) {
		lg.Debug().Str("status", string(from)).Msg("nothing to do")
		return nil
	}

	if err := s.ops.Named("booking.save").Do(ctx, func(ctx context.Context) error {
		return s.repo.Save(ctx, b)
	}); err != nil {
		return fmt.Errorf("%s booking %d: save: %w", action, b.ID, err)
	}

	lg.Info().Str("from", string(from)).Str("to", string(b.Status)).Msg("booking updated")
	return nil
}

// EventChanged tells every open booking's holder about the change. Bookings
// are not modified.
func (s *Service) EventChanged(ctx context.Context, msg contracts.EventMessage) error {
	open, err := retry.Call(ctx, s.ops.Named("booking.find_by_event"), func(ctx context.Context) ([]domain.Booking, error) {
		return s.repo.FindByEvent(ctx, msg.EventID, domain.Open...)
	})
	if err != nil {
		return fmt.Errorf("event %d changed: load bookings: %w", msg.EventID, err)
	}
	if len(open) == 0 {
		zerolog.Ctx(ctx).Debug().Int64("event_id", msg.EventID).Msg("event changed; no open bookings")
		return nil
	}

	out, err := messaging.NewMessage(topics.BookingsUpdated, s.producer, contracts.BookingsMessage{
		EventID:  msg.EventID,
		Bookings: identities(open),
		Note:     msg.Note,
		Message:  orDefault(msg.Message, fmt.Sprintf("Event %d has been updated.", msg.EventID)),
	}, s.now())
	if err != nil {
		return fault.Permanent(err)
	}
	if err := s.relay.PublishAll(ctx, []messaging.Message{out}); err != nil {
		return fmt.Errorf("event %d changed: %w", msg.EventID, err)
	}

	zerolog.Ctx(ctx).Info().
		Int64("event_id", msg.EventID).
		Int("bookings", len(open)).
		Msg("bookings notified of event change")
	return nil
}

func (s *Service) EventCancelled(ctx context.Context, msg contracts.EventMessage) error {
	n, err := s.cancelEvent(ctx, msg)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("event_id", msg.EventID).Int("cancelled", n).Msg("event cancelled")
	return nil
}

// cancelEvent cancels every open booking of the event and announces them in
// one BookingsCancelled, inside a single unit of work.
func (s *Service) cancelEvent(ctx context.Context, msg contracts.EventMessage) (int, error) {
	n, err := retry.Call(ctx, s.ops.Named("booking.cancel_event"), func(ctx context.Context) (int, error) {
		cancelled := 0
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxBookingRepo, out *messaging.Outbound) error {
			open, err := tx.LockByEvent(ctx, msg.EventID, domain.Open...)
			if err != nil {
				return err
			}
			if len(open) == 0 {
				return nil
			}

			now := s.now()
			for i := range open {
				open[i].Cancel(now)
			}
			if err := tx.SaveAll(ctx, open); err != nil {
				return err
			}

			m, err := messaging.NewMessage(topics.BookingsCancelled, s.producer, contracts.BookingsMessage{
				EventID:  msg.EventID,
				Bookings: identities(open),
				Note:     msg.Note,
				Message:  orDefault(msg.Message, fmt.Sprintf("Event %d has been cancelled.", msg.EventID)),
			}, now)
			if err != nil {
				return fault.Permanent(err)
			}
			out.Emit(m)
			cancelled = len(open)
			return nil
		})
		return cancelled, err
	})
	if err != nil {
		return 0, fmt.Errorf("event %d cancelled: %w", msg.EventID, err)
	}
	return n, nil
}

func (s *Service) EventCompleted(ctx context.Context, msg contracts.EventMessage) error {
	n, err := s.completeEvent(ctx, msg.EventID)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Int64("event_id", msg.EventID).Int("completed", n).Msg("event completed")
	return nil
}

func (s *Service) completeEvent(ctx context.Context, eventID int64) (int, error) {
	bookings, err := retry.Call(ctx, s.ops.Named("booking.find_by_event"), func(ctx context.Context) ([]domain.Booking, error) {
		return s.repo.FindByEvent(ctx, eventID, domain.StatusInProgress, domain.StatusConfirmed, domain.StatusCancelled)
	})
	if err != nil {
		return 0, fmt.Errorf("event %d completed: load bookings: %w", eventID, err)
	}

	now := s.now()
	changed := make([]domain.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.Complete(now) {
			changed = append(changed, b)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	if err := s.ops.Named("booking.save_all").Do(ctx, func(ctx context.Context) error {
		return s.repo.SaveAll(ctx, changed)
	}); err != nil {
		return 0, fmt.Errorf("event %d completed: save: %w", eventID, err)
	}
	return len(changed), nil
}

func identities(bs []domain.Booking) []contracts.BookingIdentity {
	out := make([]contracts.BookingIdentity, 0, len(bs))
	for _, b := range bs {
		out = append(out, contracts.BookingIdentity{
			BookingID: b.ID,
			Email:     b.Email,
			Username:  b.Username,
		})
	}
	return out
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
