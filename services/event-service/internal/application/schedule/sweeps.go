// Package schedule holds the event sweeps that move cached statuses forward
// as wall-clock time passes.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/event-service/internal/application/capacity"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
)

const defaultBatch = 200

// StartSweep moves AWAITING events whose start time passed to IN_PROGRESS.
type StartSweep struct {
	repo  event.EventRepo
	cache capacity.Invalidator
	batch int
}

func NewStartSweep(repo event.EventRepo, cache capacity.Invalidator, batch int) *StartSweep {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &StartSweep{repo: repo, cache: cache, batch: batch}
}

func (s *StartSweep) Name() string { return "event_start" }

func (s *StartSweep) Run(ctx context.Context, now time.Time) (int, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx event.TxEventRepo, _ *messaging.Outbound) error {
		ids = ids[:0]
		due, err := tx.LockDue(ctx, domain.StatusAwaiting, now, s.batch)
		if err != nil {
			return err
		}
		for _, ev := range due {
			if !ev.Start(now) {
				continue
			}
			if err := tx.Save(ctx, ev); err != nil {
				return err
			}
			ids = append(ids, ev.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("start sweep: %w", err)
	}
	forget(ctx, s.cache, ids)
	return len(ids), nil
}

// CompletionSweep marks ended IN_PROGRESS events COMPLETED and announces each
// with EventCompleted after the commit. A lost announcement leaves the event
// completed; the booking side's backstop reads the status directly.
type CompletionSweep struct {
	repo     event.EventRepo
	cache    capacity.Invalidator
	producer string
	batch    int
}

func NewCompletionSweep(repo event.EventRepo, cache capacity.Invalidator, producer string, batch int) *CompletionSweep {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &CompletionSweep{repo: repo, cache: cache, producer: producer, batch: batch}
}

func (s *CompletionSweep) Name() string { return "event_completion" }

func (s *CompletionSweep) Run(ctx context.Context, now time.Time) (int, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx event.TxEventRepo, out *messaging.Outbound) error {
		ids = ids[:0]
		due, err := tx.LockDue(ctx, domain.StatusInProgress, now, s.batch)
		if err != nil {
			return err
		}
		for _, ev := range due {
			if !ev.Complete(now) {
				continue
			}
			if err := tx.Save(ctx, ev); err != nil {
				return err
			}
			m, err := messaging.NewMessage(topics.EventCompleted, s.producer, contracts.EventMessage{
				EventID: ev.ID,
				Message: fmt.Sprintf("%s has finished.", ev.Title),
			}, now)
			if err != nil {
				return fault.Permanent(err)
			}
			out.EmitAfterCommit(m)
			ids = append(ids, ev.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("completion sweep: %w", err)
	}
	forget(ctx, s.cache, ids)
	return len(ids), nil
}

func forget(ctx context.Context, cache capacity.Invalidator, ids []int64) {
	if cache != nil && len(ids) > 0 {
		cache.Forget(ctx, ids...)
	}
}
