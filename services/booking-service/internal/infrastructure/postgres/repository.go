package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	pgpkg "github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE TABLE IF NOT EXISTS bookings (
  id              BIGSERIAL PRIMARY KEY,
  event_id        BIGINT      NOT NULL,
  username        TEXT        NOT NULL,
  email           TEXT        NOT NULL,
  status          TEXT        NOT NULL CHECK (status IN ('IN_PROGRESS','CONFIRMED','CANCELLED','COMPLETED')),
  event_date_time TIMESTAMPTZ NOT NULL,
  version         BIGINT      NOT NULL DEFAULT 0,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS bookings_event_status_idx ON bookings (event_id, status);
CREATE INDEX IF NOT EXISTS bookings_open_event_time_idx ON bookings (event_date_time)
  WHERE status IN ('IN_PROGRESS','CONFIRMED');
`

const bookingColumns = `id, event_id, username, email, status, event_date_time, version, created_at, updated_at`

// dbtx is satisfied by both the pool and a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool *pgxpool.Pool
	uow  *pgpkg.UnitOfWork
}

func New(uow *pgpkg.UnitOfWork) *Repository {
	return &Repository{pool: uow.Pool(), uow: uow}
}

// Insert is used by the booking request path and by tests to seed rows.
func (r *Repository) Insert(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.Status == "" {
		b.Status = domain.StatusInProgress
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO bookings (event_id, username, email, status, event_date_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+bookingColumns,
		b.EventID, b.Username, b.Email, string(b.Status), b.EventDateTime)
	out, err := scanBooking(row)
	if err != nil {
		return domain.Booking{}, pgpkg.Wrap("insert booking", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if err != nil {
		return domain.Booking{}, pgpkg.Wrap("get booking", err)
	}
	return b, nil
}

func (r *Repository) FindByEvent(ctx context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE event_id = $1 AND status = ANY($2)
		ORDER BY id
	`, eventID, statusArgs(statuses))
	if err != nil {
		return nil, pgpkg.Wrap("find bookings by event", err)
	}
	return collect(rows, "find bookings by event")
}

func (r *Repository) FindOverdueEvents(ctx context.Context, cutoff time.Time, afterEventID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT event_id
		FROM bookings
		WHERE status IN ('IN_PROGRESS','CONFIRMED')
		  AND event_date_time < $1
		  AND event_id > $2
		ORDER BY event_id
		LIMIT $3
	`, cutoff, afterEventID, limit)
	if err != nil {
		return nil, pgpkg.Wrap("find overdue events", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, pgpkg.Wrap("find overdue events", err)
	}
	return ids, nil
}

func (r *Repository) Save(ctx context.Context, b domain.Booking) error {
	return save(ctx, r.pool, b)
}

func (r *Repository) SaveAll(ctx context.Context, bs []domain.Booking) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pgpkg.Wrap("begin save all", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range bs {
		if err := save(ctx, tx, b); err != nil {
			return err
		}
	}
	return pgpkg.Wrap("commit save all", tx.Commit(ctx))
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.TxBookingRepo, out *messaging.Outbound) error) error {
	return r.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx, out *messaging.Outbound) error {
		return fn(ctx, txRepo{tx: tx}, out)
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t txRepo) LockByEvent(ctx context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE event_id = $1 AND status = ANY($2)
		ORDER BY id
		FOR UPDATE
	`, eventID, statusArgs(statuses))
	if err != nil {
		return nil, pgpkg.Wrap("lock bookings by event", err)
	}
	return collect(rows, "lock bookings by event")
}

func (t txRepo) SaveAll(ctx context.Context, bs []domain.Booking) error {
	for _, b := range bs {
		if err := save(ctx, t.tx, b); err != nil {
			return err
		}
	}
	return nil
}

// save writes status and bumps version only if nobody else did first.
func save(ctx context.Context, db dbtx, b domain.Booking) error {
	tag, err := db.Exec(ctx, `
		UPDATE bookings
		SET status = $3, updated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
	`, b.ID, b.Version, string(b.Status), b.UpdatedAt)
	if err != nil {
		return pgpkg.Wrap(fmt.Sprintf("save booking %d", b.ID), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
		return pgpkg.Wrap(fmt.Sprintf("save booking %d", b.ID), err)
	}
	if !exists {
		return fault.Permanent(fmt.Errorf("save booking %d: %w", b.ID, domain.ErrBookingNotFound))
	}
	return fault.Conflict(fmt.Errorf("save booking %d: %w", b.ID, domain.ErrVersionConflict))
}

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var status string
	err := row.Scan(&b.ID, &b.EventID, &b.Username, &b.Email, &status,
		&b.EventDateTime, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	b.Status = domain.BookingStatus(status)
	return b, err
}

func collect(rows pgx.Rows, op string) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, pgpkg.Wrap(op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, pgpkg.Wrap(op, err)
	}
	return out, nil
}

func statusArgs(statuses []domain.BookingStatus) []string {
	if len(statuses) == 0 {
		statuses = []domain.BookingStatus{
			domain.StatusInProgress, domain.StatusConfirmed, domain.StatusCancelled, domain.StatusCompleted,
		}
	}
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
