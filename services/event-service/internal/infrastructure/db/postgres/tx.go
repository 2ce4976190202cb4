package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	pgpkg "github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/jackc/pgx/v5"
)

// WithTx runs fn in a read-committed transaction. Lock order is the event row
// first, then its seat claims, on every path.
func (r *Repo) WithTx(ctx context.Context, fn func(ctx context.Context, tx event.TxEventRepo, out *messaging.Outbound) error) error {
	return r.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx, out *messaging.Outbound) error {
		return fn(ctx, &txRepo{tx: tx}, out)
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Lock(ctx context.Context, id int64) (domain.Event, error) {
	e, err := scanEvent(t.tx.QueryRow(ctx, lockEventSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, pgpkg.Wrap(fmt.Sprintf("lock event %d", id), err)
	}
	return e, nil
}

func (t *txRepo) LockDue(ctx context.Context, status domain.EventStatus, now time.Time, limit int) ([]domain.Event, error) {
	rows, err := t.tx.Query(ctx, lockDueSQL, string(status), now, limit)
	if err != nil {
		return nil, pgpkg.Wrap("lock due events", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, pgpkg.Wrap("scan due event", err)
		}
		out = append(out, e)
	}
	return out, pgpkg.Wrap("lock due events", rows.Err())
}

func (t *txRepo) Save(ctx context.Context, e domain.Event) error {
	tag, err := t.tx.Exec(ctx, updateEventSQL,
		e.ID, e.Version, e.AvailableCapacity, e.Cancelled, string(e.Status), e.UpdatedAt)
	if err != nil {
		return pgpkg.Wrap(fmt.Sprintf("save event %d", e.ID), err)
	}
	if tag.RowsAffected() != 1 {
		return fault.Conflict(fmt.Errorf("save event %d: %w", e.ID, domain.ErrVersionConflict))
	}
	return nil
}

func (t *txRepo) InsertClaim(ctx context.Context, eventID, bookingID int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, insertClaimSQL, eventID, bookingID, at)
	if err != nil {
		return false, pgpkg.Wrap("insert seat claim", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) DeleteClaim(ctx context.Context, eventID, bookingID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, deleteClaimSQL, eventID, bookingID)
	if err != nil {
		return false, pgpkg.Wrap("delete seat claim", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) HasClaim(ctx context.Context, eventID, bookingID int64) (bool, error) {
	var held bool
	if err := t.tx.QueryRow(ctx, hasClaimSQL, eventID, bookingID).Scan(&held); err != nil {
		return false, pgpkg.Wrap("check seat claim", err)
	}
	return held, nil
}
