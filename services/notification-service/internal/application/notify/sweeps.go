package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/topics"
)

const defaultExpiryBatch = 200

// ExpirySweep expires AWAITING tokens whose window has run out and emits
// BookingExpired for each in the same unit of work.
type ExpirySweep struct {
	repo     ConfirmationRepo
	producer string
	batch    int
}

func NewExpirySweep(repo ConfirmationRepo, producer string, batch int) *ExpirySweep {
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &ExpirySweep{repo: repo, producer: producer, batch: batch}
}

func (s *ExpirySweep) Name() string { return "confirmation_expiry" }

func (s *ExpirySweep) Run(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxConfirmationRepo, out *messaging.Outbound) error {
		expired = 0
		due, err := tx.LockElapsed(ctx, now, s.batch)
		if err != nil {
			return err
		}
		for _, c := range due {
			if !c.Expire(now) {
				continue
			}
			if err := tx.Save(ctx, c); err != nil {
				return err
			}
			m, err := messaging.NewMessage(topics.BookingExpired, s.producer, contracts.BookingMessage{
				BookingID: c.BookingID,
				Email:     c.Email,
				Username:  c.Username,
				EventID:   c.EventID,
				Message:   "Booking confirmation window has closed.",
			}, now)
			if err != nil {
				return fault.Permanent(err)
			}
			out.Emit(m)
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expiry sweep: %w", err)
	}
	return expired, nil
}

// PurgeSweep deletes tokens older than the retention horizon whatever their
// status.
type PurgeSweep struct {
	repo      ConfirmationRepo
	retention time.Duration
}

func NewPurgeSweep(repo ConfirmationRepo, retention time.Duration) *PurgeSweep {
	if retention <= 0 {
		retention = 6 * time.Hour
	}
	return &PurgeSweep{repo: repo, retention: retention}
}

func (s *PurgeSweep) Name() string { return "confirmation_purge" }

func (s *PurgeSweep) Run(ctx context.Context, now time.Time) (int, error) {
	n, err := s.repo.DeleteCreatedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("purge sweep: %w", err)
	}
	return n, nil
}
