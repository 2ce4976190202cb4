package domain

import (
	"strings"
	"time"
)

type Event struct {
	ID              int64
	FacilitatorID   string
	Title           string
	StartTime       time.Time
	DurationMinutes int

	AvailableCapacity int
	Cancelled         bool
	// Status caches DerivedStatus as of the last sweep or write.
	Status  EventStatus
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEvent validates a schedule for the event-owning web path.
func NewEvent(facilitatorID, title string, start time.Time, durationMinutes, capacity int, now time.Time) (*Event, error) {
	facilitatorID = strings.TrimSpace(facilitatorID)
	title = strings.TrimSpace(title)

	if facilitatorID == "" {
		return nil, ErrValidation("facilitator_id is required")
	}
	if title == "" || len(title) > 120 {
		return nil, ErrValidation("title is required and must be <= 120 chars")
	}
	if start.IsZero() {
		return nil, ErrValidation("start_time is required")
	}
	if durationMinutes <= 0 {
		return nil, ErrValidation("duration_minutes must be > 0")
	}
	if capacity < 0 {
		return nil, ErrValidation("capacity must be >= 0")
	}

	e := &Event{
		FacilitatorID:     facilitatorID,
		Title:             title,
		StartTime:         start.UTC(),
		DurationMinutes:   durationMinutes,
		AvailableCapacity: capacity,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
	e.Status = e.DerivedStatus(now)
	return e, nil
}

func (e *Event) EndTime() time.Time {
	return e.StartTime.Add(time.Duration(e.DurationMinutes) * time.Minute)
}

func (e *Event) DerivedStatus(now time.Time) EventStatus {
	switch {
	case e.Cancelled:
		return StatusCancelled
	case !now.Before(e.EndTime()):
		return StatusCompleted
	case !now.Before(e.StartTime):
		return StatusInProgress
	default:
		return StatusAwaiting
	}
}

// Bookable reports whether a confirmation may still take a seat.
func (e *Event) Bookable(now time.Time) bool {
	s := e.DerivedStatus(now)
	return s != StatusCancelled && s != StatusCompleted
}

// ClaimSeat takes one seat. It refuses rather than go below zero.
func (e *Event) ClaimSeat(now time.Time) bool {
	if e.AvailableCapacity <= 0 {
		return false
	}
	e.AvailableCapacity--
	e.UpdatedAt = now.UTC()
	return true
}

func (e *Event) ReleaseSeat(now time.Time) {
	e.AvailableCapacity++
	e.UpdatedAt = now.UTC()
}

// Start moves a cached AWAITING status forward once the start time passed.
func (e *Event) Start(now time.Time) bool {
	if e.Status != StatusAwaiting || e.Cancelled || now.Before(e.StartTime) {
		return false
	}
	e.Status = StatusInProgress
	e.UpdatedAt = now.UTC()
	return true
}

// Complete marks an IN_PROGRESS event COMPLETED once it has ended.
func (e *Event) Complete(now time.Time) bool {
	if e.Status != StatusInProgress || e.Cancelled || now.Before(e.EndTime()) {
		return false
	}
	e.Status = StatusCompleted
	e.UpdatedAt = now.UTC()
	return true
}
