package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgpkg "github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
	uow  *pgpkg.UnitOfWork
}

func New(uow *pgpkg.UnitOfWork) *Repo {
	return &Repo{pool: uow.Pool(), uow: uow}
}

// Insert is the event-owning web path's create, also used to seed tests.
func (r *Repo) Insert(ctx context.Context, e domain.Event) (domain.Event, error) {
	if e.Status == "" {
		e.Status = domain.StatusAwaiting
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
		e.UpdatedAt = e.CreatedAt
	}
	row := r.pool.QueryRow(ctx, insertEventSQL,
		e.FacilitatorID, e.Title, e.StartTime, e.DurationMinutes,
		e.AvailableCapacity, e.Cancelled, string(e.Status), e.CreatedAt, e.UpdatedAt)
	out, err := scanEvent(row)
	if err != nil {
		return domain.Event{}, pgpkg.Wrap("insert event", err)
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, id int64) (domain.Event, error) {
	e, err := scanEvent(r.pool.QueryRow(ctx, getEventSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, pgpkg.Wrap(fmt.Sprintf("get event %d", id), err)
	}
	return e, nil
}

// ClaimCount is read by tests and operators checking the ledger.
func (r *Repo) ClaimCount(ctx context.Context, eventID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM seat_claims WHERE event_id = $1`, eventID).Scan(&n)
	return n, pgpkg.Wrap("count claims", err)
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var status string
	err := row.Scan(&e.ID, &e.FacilitatorID, &e.Title, &e.StartTime, &e.DurationMinutes,
		&e.AvailableCapacity, &e.Cancelled, &status, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	e.Status = domain.EventStatus(status)
	return e, err
}
