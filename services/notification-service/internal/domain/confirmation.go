package domain

import (
	"errors"
	"time"
)

type ConfirmationStatus string

const (
	StatusAwaiting  ConfirmationStatus = "AWAITING_CONFIRMATION"
	StatusConfirmed ConfirmationStatus = "CONFIRMED"
	StatusExpired   ConfirmationStatus = "EXPIRED"
)

var (
	ErrConfirmationNotFound = errors.New("confirmation not found")
	ErrConfirmationExpired  = errors.New("confirmation expired")
	ErrVersionConflict      = errors.New("confirmation was modified concurrently")
)

// Confirmation is the token a booking holder follows to confirm a booking.
type Confirmation struct {
	Token           string
	BookingID       int64
	EventID         int64
	Username        string
	Email           string
	ValidityMinutes int
	Status          ConfirmationStatus
	Version         int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewConfirmation(token string, bookingID, eventID int64, username, email string, validity time.Duration, now time.Time) Confirmation {
	now = now.UTC()
	return Confirmation{
		Token:           token,
		BookingID:       bookingID,
		EventID:         eventID,
		Username:        username,
		Email:           email,
		ValidityMinutes: wholeMinutes(validity),
		Status:          StatusAwaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// wholeMinutes rounds up so a short validity never yields an empty window.
func wholeMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}

func (c *Confirmation) ExpiresAt() time.Time {
	return c.CreatedAt.Add(time.Duration(c.ValidityMinutes) * time.Minute)
}

// Elapsed reports whether the validity window has run out.
func (c *Confirmation) Elapsed(now time.Time) bool {
	return !now.Before(c.ExpiresAt())
}

// Live tokens may still be confirmed.
func (c *Confirmation) Live(now time.Time) bool {
	return c.Status == StatusAwaiting && !c.Elapsed(now)
}

// Confirm reports whether the token moved to CONFIRMED. Confirming twice is a
// no-op; an expired token, by status or by clock, is rejected.
func (c *Confirmation) Confirm(now time.Time) (bool, error) {
	switch {
	case c.Status == StatusConfirmed:
		return false, nil
	case c.Status == StatusExpired, c.Elapsed(now):
		return false, ErrConfirmationExpired
	}
	c.Status = StatusConfirmed
	c.UpdatedAt = now.UTC()
	return true, nil
}

// Expire moves an AWAITING token whose window ran out to EXPIRED.
func (c *Confirmation) Expire(now time.Time) bool {
	if c.Status != StatusAwaiting || !c.Elapsed(now) {
		return false
	}
	c.Status = StatusExpired
	c.UpdatedAt = now.UTC()
	return true
}
