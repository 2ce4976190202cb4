// Package notify turns booking lifecycle messages into emails and owns the
// confirmation token lifecycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	Producer      string
	PublicBaseURL string
	// Validity is how long a confirmation token stays live.
	Validity time.Duration
	// IdempotencyTTL is how long a sent marker suppresses a resend.
	IdempotencyTTL time.Duration
}

type Service struct {
	cfg    Config
	repo   ConfirmationRepo
	sender Sender
	idem   IdempotencyStore // nil => disabled

	persist retry.Policy
	mail    retry.Policy

	now func() time.Time
	lg  zerolog.Logger
}

func NewService(cfg Config, repo ConfirmationRepo, sender Sender, idem IdempotencyStore, ops retry.Policy, lg zerolog.Logger) *Service {
	if cfg.Validity <= 0 {
		cfg.Validity = 30 * time.Minute
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &Service{
		cfg:     cfg,
		repo:    repo,
		sender:  sender,
		idem:    idem,
		persist: ops.Named("notify.persist"),
		mail:    ops.Named("notify.email"),
		now:     func() time.Time { return time.Now().UTC() },
		lg:      lg.With().Str("component", "notify_service").Logger(),
	}
}

// WithClock replaces the wall clock; tests pin it.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Routes() []messaging.Route {
	return []messaging.Route{
		{Kind: topics.BookingCreated, Handler: single(s.BookingCreated)},
		{Kind: topics.BookingCancelled, Handler: single(s.BookingCancelled)},
		{Kind: topics.BookingEventUnavailable, Handler: single(s.BookingEventUnavailable)},
		{Kind: topics.BookingsUpdated, Handler: bundle(s.BookingsUpdated)},
		{Kind: topics.BookingsCancelled, Handler: bundle(s.BookingsCancelled)},
	}
}

func single(fn func(context.Context, string, contracts.BookingMessage) error) messaging.Handler {
	return messaging.JSON(func(ctx context.Context, _ messaging.Record, env contracts.Envelope[contracts.BookingMessage]) error {
		return fn(ctx, env.MessageID, env.Payload)
	})
}

func bundle(fn func(context.Context, string, contracts.BookingsMessage) error) messaging.Handler {
	return messaging.JSON(func(ctx context.Context, _ messaging.Record, env contracts.Envelope[contracts.BookingsMessage]) error {
		return fn(ctx, env.MessageID, env.Payload)
	})
}

// BookingCreated issues (or, on redelivery, reuses) a confirmation token and
// mails the confirmation link. The email goes out even when the token could
// not be stored: delivery is at-least-once and a lost token is reconciled by
// hand.
func (s *Service) BookingCreated(ctx context.Context, msgID string, msg contracts.BookingMessage) error {
	now := s.now()
	lg := s.lg.With().Int64("booking_id", msg.BookingID).Int64("event_id", msg.EventID).Logger()

	live, err := retry.Call(ctx, s.persist.Named("notify.find_token"), func(ctx context.Context) (liveToken, error) {
		c, ok, err := s.repo.FindLive(ctx, msg.BookingID, now)
		return liveToken{c: c, ok: ok}, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		lg.Warn().Err(err).Msg("live token lookup failed; issuing a new token")
	}

	c := live.c
	if !live.ok {
		c = domain.NewConfirmation(uuid.NewString(), msg.BookingID, msg.EventID, msg.Username, msg.Email, s.cfg.Validity, now)
		if err := s.persist.Do(ctx, func(ctx context.Context) error {
			return s.repo.Insert(ctx, c)
		}); err != nil {
			if ctx.Err() != nil {
				return err
			}
			lg.Error().Err(err).
				Str("token", c.Token).
				Bool("manual_reconciliation_required", true).
				Msg("confirmation token not persisted; sending email anyway")
		}
	} else {
		lg.Info().Str("token", c.Token).Msg("reusing live confirmation token")
	}

	return s.deliver(ctx, msgID, Mail{
		Kind:      MailConfirmation,
		To:        msg.Email,
		Username:  msg.Username,
		BookingID: msg.BookingID,
		EventID:   msg.EventID,
		Link:      s.confirmLink(c.Token),
		Message:   msg.Message,
	})
}

func (s *Service) BookingCancelled(ctx context.Context, msgID string, msg contracts.BookingMessage) error {
	return s.deliver(ctx, msgID, singleMail(MailBookingCancelled, msg))
}

func (s *Service) BookingEventUnavailable(ctx context.Context, msgID string, msg contracts.BookingMessage) error {
	return s.deliver(ctx, msgID, singleMail(MailEventUnavailable, msg))
}

func (s *Service) BookingsUpdated(ctx context.Context, msgID string, msg contracts.BookingsMessage) error {
	return s.fanOut(ctx, msgID, MailBookingsUpdated, msg)
}

func (s *Service) BookingsCancelled(ctx context.Context, msgID string, msg contracts.BookingsMessage) error {
	return s.fanOut(ctx, msgID, MailEventCancelled, msg)
}

// fanOut mails every recipient independently. A recipient that cannot be
// reached does not stop the others; the joined error sends the whole bundle
// to the dead-letter topic, and the sent markers make replaying it safe.
func (s *Service) fanOut(ctx context.Context, msgID string, kind MailKind, msg contracts.BookingsMessage) error {
	var errs []error
	for _, b := range msg.Bookings {
		err := s.deliver(ctx, msgID, Mail{
			Kind:      kind,
			To:        b.Email,
			Username:  b.Username,
			BookingID: b.BookingID,
			EventID:   msg.EventID,
			Message:   msg.Message,
			Note:      msg.Note,
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			errs = append(errs, fmt.Errorf("booking %d: %w", b.BookingID, err))
		}
	}
	if len(errs) > 0 {
		s.lg.Error().
			Int64("event_id", msg.EventID).
			Int("failed", len(errs)).
			Int("recipients", len(msg.Bookings)).
			Str("kind", string(kind)).
			Msg("fan-out incomplete")
	}
	return errors.Join(errs...)
}

func (s *Service) deliver(ctx context.Context, msgID string, m Mail) error {
	key := sentKey(m.Kind, m.BookingID, msgID)
	lg := s.lg.With().Str("kind", string(m.Kind)).Int64("booking_id", m.BookingID).Logger()

	if s.idem != nil && key != "" {
		seen, err := s.idem.Seen(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			lg.Info().Str("key", key).Msg("idempotent skip (already sent)")
			return nil
		}
	}

	if err := s.mail.Do(ctx, func(ctx context.Context) error {
		return s.sender.Send(ctx, m)
	}); err != nil {
		return fmt.Errorf("send %s to booking %d: %w", m.Kind, m.BookingID, err)
	}

	if s.idem != nil && key != "" {
		if err := s.idem.MarkSent(ctx, key, s.cfg.IdempotencyTTL); err != nil {
			lg.Warn().Err(err).Str("key", key).Msg("idempotency mark failed (send already succeeded)")
			return nil
		}
	}
	lg.Info().Msg("email sent")
	return nil
}

func (s *Service) confirmLink(token string) string {
	return s.cfg.PublicBaseURL + "/bookings/confirm?token=" + url.QueryEscape(token)
}

func singleMail(kind MailKind, msg contracts.BookingMessage) Mail {
	return Mail{
		Kind:      kind,
		To:        msg.Email,
		Username:  msg.Username,
		BookingID: msg.BookingID,
		EventID:   msg.EventID,
		Message:   msg.Message,
	}
}

// sentKey is empty when the message has no id; such sends are not deduplicated.
func sentKey(kind MailKind, bookingID int64, msgID string) string {
	if msgID == "" {
		return ""
	}
	return fmt.Sprintf("email:sent:%s:%d:%s", kind, bookingID, msgID)
}

type liveToken struct {
	c  domain.Confirmation
	ok bool
}
