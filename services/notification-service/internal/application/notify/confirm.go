package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
)

// Confirm marks a live token CONFIRMED and emits BookingConfirmed in the same
// unit of work. A token that is already confirmed returns without emitting.
func (s *Service) Confirm(ctx context.Context, token string) (domain.Confirmation, error) {
	if token == "" {
		return domain.Confirmation{}, domain.ErrConfirmationNotFound
	}

	c, err := retry.Call(ctx, s.persist.Named("notify.confirm"), func(ctx context.Context) (domain.Confirmation, error) {
		var c domain.Confirmation
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxConfirmationRepo, out *messaging.Outbound) error {
			var err error
			c, err = tx.Lock(ctx, token)
			if err != nil {
				return err
			}

			now := s.now()
			changed, err := c.Confirm(now)
			if err != nil || !changed {
				return err
			}
			if err := tx.Save(ctx, c); err != nil {
				return err
			}

			m, err := messaging.NewMessage(topics.BookingConfirmed, s.cfg.Producer, contracts.BookingMessage{
				BookingID: c.BookingID,
				Email:     c.Email,
				Username:  c.Username,
				EventID:   c.EventID,
				Message:   "Booking confirmed.",
			}, now)
			if err != nil {
				return fault.Permanent(err)
			}
			out.Emit(m)
			return nil
		})
		return c, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationNotFound) || errors.Is(err, domain.ErrConfirmationExpired) {
			return domain.Confirmation{}, err
		}
		return domain.Confirmation{}, fmt.Errorf("confirm token: %w", err)
	}

	s.lg.Info().
		Int64("booking_id", c.BookingID).
		Str("status", string(c.Status)).
		Msg("booking confirmation recorded")
	return c, nil
}
