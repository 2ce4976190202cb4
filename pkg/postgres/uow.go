package postgres

import (
	"context"
	"fmt"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// UnitOfWork runs a transaction together with the messages it emits.
//
// With the outbox enabled every emitted message is inserted into the outbox
// table inside the transaction and the OutboxWorker publishes it later.
// Without it, Emit messages are published (with confirms) before COMMIT and a
// publish failure rolls the transaction back; EmitAfterCommit messages are
// published after COMMIT and only logged on failure. A publish that succeeds
// followed by a failed COMMIT can leave a message about uncommitted state, so
// consumers stay idempotent either way.
type UnitOfWork struct {
	pool   *pgxpool.Pool
	relay  messaging.Relay
	outbox bool
	lg     zerolog.Logger
}

func NewUnitOfWork(pool *pgxpool.Pool, relay messaging.Relay, outbox bool, lg zerolog.Logger) *UnitOfWork {
	return &UnitOfWork{
		pool:   pool,
		relay:  relay,
		outbox: outbox,
		lg:     lg.With().Str("component", "unit_of_work").Logger(),
	}
}

func (u *UnitOfWork) Pool() *pgxpool.Pool { return u.pool }

func (u *UnitOfWork) OutboxEnabled() bool { return u.outbox }

func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx, out *messaging.Outbound) error) error {
	tx, err := u.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Wrap("begin tx", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback(ctx) }()

	out := &messaging.Outbound{}
	if err := fn(ctx, tx, out); err != nil {
		return err
	}

	if u.outbox {
		for _, m := range out.Committed() {
			if err := InsertOutbox(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, m := range out.AfterCommit() {
			if err := InsertOutbox(ctx, tx, m); err != nil {
				return err
			}
		}
	} else if err := u.relay.PublishAll(ctx, out.Committed()); err != nil {
		return fmt.Errorf("publish before commit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Wrap("commit tx", err)
	}

	if !u.outbox && len(out.AfterCommit()) > 0 {
		u.relay.PublishBestEffort(ctx, out.AfterCommit())
	}
	return nil
}
