package contracts

import "strconv"

// BookingIdentity is the recipient block carried by fan-out messages.
type BookingIdentity struct {
	BookingID int64  `json:"booking_id" validate:"gt=0"`
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required"`
}

// BookingMessage is the payload of BookingCreated, BookingConfirmed,
// BookingCancelled, BookingExpired and BookingEventUnavailable.
type BookingMessage struct {
	BookingID int64  `json:"booking_id" validate:"gt=0"`
	Email     string `json:"email" validate:"required,email"`
	Username  string `json:"username" validate:"required"`
	EventID   int64  `json:"event_id" validate:"gt=0"`
	Message   string `json:"message"`
}

func (m BookingMessage) Key() string { return strconv.FormatInt(m.BookingID, 10) }

func (m BookingMessage) Identity() BookingIdentity {
	return BookingIdentity{BookingID: m.BookingID, Email: m.Email, Username: m.Username}
}

// BookingsMessage is the payload of BookingsUpdated and BookingsCancelled.
type BookingsMessage struct {
	EventID  int64             `json:"event_id" validate:"gt=0"`
	Bookings []BookingIdentity `json:"bookings" validate:"required,min=1,dive"`
	Note     string            `json:"note,omitempty"`
	Message  string            `json:"message"`
}

func (m BookingsMessage) Key() string { return strconv.FormatInt(m.EventID, 10) }

// EventMessage is the payload of EventChanged, EventCancelled and EventCompleted.
type EventMessage struct {
	EventID int64  `json:"event_id" validate:"gt=0"`
	Note    string `json:"note,omitempty"`
	Message string `json:"message"`
}

func (m EventMessage) Key() string { return strconv.FormatInt(m.EventID, 10) }
