package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
)

type BookingRepo interface {
	Get(ctx context.Context, id int64) (domain.Booking, error)
	FindByEvent(ctx context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error)
	// FindOverdueEvents lists, in ascending order, up to limit distinct ids
	// greater than afterEventID of events with open bookings that started
	// before cutoff.
	FindOverdueEvents(ctx context.Context, cutoff time.Time, afterEventID int64, limit int) ([]int64, error)

	// Save and SaveAll fail with a fault.Conflict when a row's version moved.
	Save(ctx context.Context, b domain.Booking) error
	SaveAll(ctx context.Context, bs []domain.Booking) error

	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxBookingRepo, out *messaging.Outbound) error) error
}

// TxBookingRepo is the subset usable inside WithTx.
type TxBookingRepo interface {
	LockByEvent(ctx context.Context, eventID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error)
	SaveAll(ctx context.Context, bs []domain.Booking) error
}

// Event statuses as the event service derives them.
const (
	EventAwaiting   = "AWAITING"
	EventInProgress = "IN_PROGRESS"
	EventCompleted  = "COMPLETED"
	EventCancelled  = "CANCELLED"
)

var ErrEventNotFound = errors.New("event not found")

// EventView is the read-only projection of an event this service may fetch.
type EventView struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type EventLookup interface {
	GetEvent(ctx context.Context, id int64) (EventView, error)
}
