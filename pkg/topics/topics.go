// Package topics is the static catalog of message kinds and the topic names
// they travel on. Every topic has a dead-letter companion named <topic>-dlt.
package topics

import "strings"

type Kind string

const (
	BookingCreated          Kind = "BookingCreated"
	BookingConfirmed        Kind = "BookingConfirmed"
	BookingCancelled        Kind = "BookingCancelled"
	BookingExpired          Kind = "BookingExpired"
	BookingEventUnavailable Kind = "BookingEventUnavailable"
	BookingsUpdated         Kind = "BookingsUpdated"
	BookingsCancelled       Kind = "BookingsCancelled"
	EventChanged            Kind = "EventChanged"
	EventCancelled          Kind = "EventCancelled"
	EventCompleted          Kind = "EventCompleted"
)

const deadLetterSuffix = "-dlt"

var names = map[Kind]string{
	BookingCreated:          "booking-created",
	BookingConfirmed:        "booking-confirmed",
	BookingCancelled:        "booking-cancelled",
	BookingExpired:          "booking-expired",
	BookingEventUnavailable: "booking-event-unavailable",
	BookingsUpdated:         "bookings-updated",
	BookingsCancelled:       "bookings-cancelled",
	EventChanged:            "event-changed",
	EventCancelled:          "event-cancelled",
	EventCompleted:          "event-completed",
}

var order = []Kind{
	BookingCreated,
	BookingConfirmed,
	BookingCancelled,
	BookingExpired,
	BookingEventUnavailable,
	BookingsUpdated,
	BookingsCancelled,
	EventChanged,
	EventCancelled,
	EventCompleted,
}

// Name returns the topic a kind is published on, or "" for an unknown kind.
func Name(k Kind) string {
	return names[k]
}

// Topic is Name for callers that hold a known-good kind.
func (k Kind) Topic() string {
	return names[k]
}

// DeadLetter returns the dead-letter topic for topic.
func DeadLetter(topic string) string {
	return topic + deadLetterSuffix
}

func IsDeadLetter(topic string) bool {
	return strings.HasSuffix(topic, deadLetterSuffix)
}

// Lookup resolves a topic name back to its kind.
func Lookup(topic string) (Kind, bool) {
	for k, n := range names {
		if n == topic {
			return k, true
		}
	}
	return "", false
}

// All lists every kind in a stable order.
func All() []Kind {
	out := make([]Kind, len(order))
	copy(out, order)
	return out
}
