package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	pgpkg "github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const Schema = `
CREATE TABLE IF NOT EXISTS booking_confirmations (
  token            TEXT PRIMARY KEY,
  booking_id       BIGINT      NOT NULL,
  event_id         BIGINT      NOT NULL,
  username         TEXT        NOT NULL,
  email            TEXT        NOT NULL,
  validity_minutes INT         NOT NULL CHECK (validity_minutes > 0),
  status           TEXT        NOT NULL CHECK (status IN ('AWAITING_CONFIRMATION','CONFIRMED','EXPIRED')),
  version          BIGINT      NOT NULL DEFAULT 0,
  created_at       TIMESTAMPTZ NOT NULL,
  updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS booking_confirmations_booking_idx ON booking_confirmations (booking_id, created_at DESC);
CREATE INDEX IF NOT EXISTS booking_confirmations_awaiting_idx ON booking_confirmations (created_at)
  WHERE status = 'AWAITING_CONFIRMATION';
`

const confirmationColumns = `token, booking_id, event_id, username, email, validity_minutes, status, version, created_at, updated_at`

// Window end, computed in SQL so the sweep can use the partial index.
const expiresAt = `created_at + make_interval(mins => validity_minutes)`

type Repository struct {
	pool *pgxpool.Pool
	uow  *pgpkg.UnitOfWork
}

func New(uow *pgpkg.UnitOfWork) *Repository {
	return &Repository{pool: uow.Pool(), uow: uow}
}

func (r *Repository) Insert(ctx context.Context, c domain.Confirmation) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_confirmations (`+confirmationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.Token, c.BookingID, c.EventID, c.Username, c.Email, c.ValidityMinutes,
		string(c.Status), c.Version, c.CreatedAt, c.UpdatedAt)
	return pgpkg.Wrap("insert confirmation", err)
}

func (r *Repository) Get(ctx context.Context, token string) (domain.Confirmation, error) {
	c, err := scanConfirmation(r.pool.QueryRow(ctx,
		`SELECT `+confirmationColumns+` FROM booking_confirmations WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Confirmation{}, domain.ErrConfirmationNotFound
	}
	return c, pgpkg.Wrap("get confirmation", err)
}

func (r *Repository) FindLive(ctx context.Context, bookingID int64, now time.Time) (domain.Confirmation, bool, error) {
	c, err := scanConfirmation(r.pool.QueryRow(ctx, `
		SELECT `+confirmationColumns+`
		FROM booking_confirmations
		WHERE booking_id = $1
		  AND status = 'AWAITING_CONFIRMATION'
		  AND `+expiresAt+` > $2
		ORDER BY created_at DESC
		LIMIT 1`, bookingID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Confirmation{}, false, nil
	}
	if err != nil {
		return domain.Confirmation{}, false, pgpkg.Wrap("find live confirmation", err)
	}
	return c, true, nil
}

func (r *Repository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM booking_confirmations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, pgpkg.Wrap("purge confirmations", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx notify.TxConfirmationRepo, out *messaging.Outbound) error) error {
	return r.uow.Run(ctx, func(ctx context.Context, tx pgx.Tx, out *messaging.Outbound) error {
		return fn(ctx, &txRepo{tx: tx}, out)
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Lock(ctx context.Context, token string) (domain.Confirmation, error) {
	c, err := scanConfirmation(t.tx.QueryRow(ctx,
		`SELECT `+confirmationColumns+` FROM booking_confirmations WHERE token = $1 FOR UPDATE`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Confirmation{}, domain.ErrConfirmationNotFound
	}
	return c, pgpkg.Wrap("lock confirmation", err)
}

func (t *txRepo) LockElapsed(ctx context.Context, now time.Time, limit int) ([]domain.Confirmation, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+confirmationColumns+`
		FROM booking_confirmations
		WHERE status = 'AWAITING_CONFIRMATION'
		  AND `+expiresAt+` <= $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, pgpkg.Wrap("lock elapsed confirmations", err)
	}
	defer rows.Close()

	var out []domain.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, pgpkg.Wrap("scan confirmation", err)
		}
		out = append(out, c)
	}
	return out, pgpkg.Wrap("lock elapsed confirmations", rows.Err())
}

func (t *txRepo) Save(ctx context.Context, c domain.Confirmation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE booking_confirmations
		SET status = $3, updated_at = $4, version = version + 1
		WHERE token = $1 AND version = $2`,
		c.Token, c.Version, string(c.Status), c.UpdatedAt)
	if err != nil {
		return pgpkg.Wrap("save confirmation", err)
	}
	if tag.RowsAffected() != 1 {
		return fault.Conflict(fmt.Errorf("save confirmation %s: %w", c.Token, domain.ErrVersionConflict))
	}
	return nil
}

func scanConfirmation(row pgx.Row) (domain.Confirmation, error) {
	var c domain.Confirmation
	var status string
	err := row.Scan(&c.Token, &c.BookingID, &c.EventID, &c.Username, &c.Email,
		&c.ValidityMinutes, &status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	c.Status = domain.ConfirmationStatus(status)
	return c, err
}
