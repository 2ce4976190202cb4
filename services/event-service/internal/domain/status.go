package domain

type EventStatus string

const (
	StatusAwaiting   EventStatus = "AWAITING"
	StatusInProgress EventStatus = "IN_PROGRESS"
	StatusCompleted  EventStatus = "COMPLETED"
	StatusCancelled  EventStatus = "CANCELLED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusAwaiting, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
