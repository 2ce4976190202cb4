// Package postgres holds the pgx plumbing shared by the services: pool setup,
// error classification, the unit of work and the transactional outbox.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Open creates a pool and pings it.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

// Migrate runs idempotent DDL statements in order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, ddl ...string) error {
	for i, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

// Wrap annotates err with op and marks it transient or permanent from its
// SQLSTATE. pgx.ErrNoRows passes through unmarked so callers can map it to a
// domain error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", op, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return wrapped
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isTransientCode(pgErr.Code) {
			return fault.Transient(wrapped)
		}
		return fault.Permanent(wrapped)
	}

	if errors.Is(err, context.Canceled) {
		return wrapped
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return fault.Transient(wrapped)
	case errors.As(err, &connErr), errors.As(err, &netErr):
		return fault.Transient(wrapped)
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Transient(wrapped)
	}
	return wrapped
}

func isTransientCode(code string) bool {
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
		"53300": // too_many_connections
		return true
	}
	return strings.HasPrefix(code, "08")
}
