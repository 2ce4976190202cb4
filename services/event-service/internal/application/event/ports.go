package event

import (
	"context"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type EventRepo interface {
	// Get returns domain.ErrEventNotFound for an unknown id.
	Get(ctx context.Context, id int64) (domain.Event, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxEventRepo, out *messaging.Outbound) error) error
}

// TxEventRepo is what a unit of work may do. Lock and LockDue hold row locks
// until the unit of work ends.
type TxEventRepo interface {
	Lock(ctx context.Context, id int64) (domain.Event, error)
	// LockDue returns up to limit events with the cached status whose next
	// boundary (start for AWAITING, end for IN_PROGRESS) is at or before now.
	LockDue(ctx context.Context, status domain.EventStatus, now time.Time, limit int) ([]domain.Event, error)
	// Save fails with a fault.Conflict when the version moved.
	Save(ctx context.Context, e domain.Event) error

	// Seat claims record which bookings hold a seat.
	InsertClaim(ctx context.Context, eventID, bookingID int64, at time.Time) (bool, error)
	DeleteClaim(ctx context.Context, eventID, bookingID int64) (bool, error)
	HasClaim(ctx context.Context, eventID, bookingID int64) (bool, error)
}

// Cache is optional; nil disables caching of event reads.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
