package domain

import (
	"errors"
	"time"
)

type BookingStatus string

const (
	StatusInProgress BookingStatus = "IN_PROGRESS"
	StatusConfirmed  BookingStatus = "CONFIRMED"
	StatusCancelled  BookingStatus = "CANCELLED"
	StatusCompleted  BookingStatus = "COMPLETED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Open statuses are the ones an event cancellation or completion still acts on.
var Open = []BookingStatus{StatusInProgress, StatusConfirmed}

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrVersionConflict = errors.New("booking was modified concurrently")
	ErrEventMismatch   = errors.New("booking belongs to another event")
)

type Booking struct {
	ID            int64
	EventID       int64
	Username      string
	Email         string
	Status        BookingStatus
	EventDateTime time.Time
	Version       int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Each transition reports whether it changed the booking. A false return is
// the idempotent no-op for a duplicate or late message.

func (b *Booking) Confirm(now time.Time) bool {
	if b.Status != StatusInProgress {
		return false
	}
	return b.move(StatusConfirmed, now)
}

// Cancel covers the event-unavailable and event-cancelled paths.
func (b *Booking) Cancel(now time.Time) bool {
	if b.Status.Terminal() {
		return false
	}
	return b.move(StatusCancelled, now)
}

// Expire only applies to bookings nobody confirmed.
func (b *Booking) Expire(now time.Time) bool {
	if b.Status != StatusInProgress {
		return false
	}
	return b.move(StatusCancelled, now)
}

func (b *Booking) Complete(now time.Time) bool {
	if b.Status.Terminal() {
		return false
	}
	return b.move(StatusCompleted, now)
}

func (b *Booking) move(to BookingStatus, now time.Time) bool {
	b.Status = to
	b.UpdatedAt = now.UTC()
	return true
}
