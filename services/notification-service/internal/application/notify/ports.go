package notify

import (
	"context"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
)

// MailKind selects the template an email is rendered with.
type MailKind string

const (
	MailConfirmation     MailKind = "booking_confirmation"
	MailBookingCancelled MailKind = "booking_cancelled"
	MailEventUnavailable MailKind = "booking_event_unavailable"
	MailBookingsUpdated  MailKind = "bookings_updated"
	MailEventCancelled   MailKind = "bookings_cancelled"
)

// Mail is one rendered-on-send email to one recipient.
type Mail struct {
	Kind      MailKind
	To        string
	Username  string
	BookingID int64
	EventID   int64
	// Link is set for confirmation emails.
	Link    string
	Message string
	Note    string
}

// Sender delivers a Mail. Errors carry Temporary() or Permanent() markers.
type Sender interface {
	Send(ctx context.Context, m Mail) error
}

type IdempotencyStore interface {
	// Seen returns true if key already marked as sent.
	Seen(ctx context.Context, key string) (bool, error)

	// MarkSent marks key as sent with TTL (idempotent).
	MarkSent(ctx context.Context, key string, ttl time.Duration) error
}

type ConfirmationRepo interface {
	// FindLive returns the newest live token of a booking.
	FindLive(ctx context.Context, bookingID int64, now time.Time) (domain.Confirmation, bool, error)
	Insert(ctx context.Context, c domain.Confirmation) error
	// DeleteCreatedBefore purges tokens regardless of status.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxConfirmationRepo, out *messaging.Outbound) error) error
}

type TxConfirmationRepo interface {
	// Lock returns domain.ErrConfirmationNotFound for an unknown token.
	Lock(ctx context.Context, token string) (domain.Confirmation, error)
	// LockElapsed returns AWAITING tokens whose window ended at or before now.
	LockElapsed(ctx context.Context, now time.Time, limit int) ([]domain.Confirmation, error)
	// Save fails with a fault.Conflict when the version moved.
	Save(ctx context.Context, c domain.Confirmation) error
}
