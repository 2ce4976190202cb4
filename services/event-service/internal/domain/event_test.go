package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tt, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("bad time %q: %v", s, err)
	}
	return tt.UTC()
}

func TestNewEvent_Validation(t *testing.T) {
	now := mustTime(t, "2026-06-01T10:00:00Z")
	start := now.Add(time.Hour)

	t.Run("valid_event", func(t *testing.T) {
		e, err := NewEvent("fac-1", "Go meetup", start, 90, 20, now)
		require.NoError(t, err)
		assert.Equal(t, StatusAwaiting, e.Status)
		assert.Equal(t, 20, e.AvailableCapacity)
		assert.Equal(t, start.Add(90*time.Minute), e.EndTime())
	})

	t.Run("fail_on_empty_facilitator", func(t *testing.T) {
		_, err := NewEvent("", "t", start, 60, 1, now)
		require.Error(t, err)
		assert.Equal(t, CodeValidation, err.(*AppError).Code)
	})

	t.Run("fail_on_negative_capacity", func(t *testing.T) {
		_, err := NewEvent("f", "t", start, 60, -1, now)
		assert.Contains(t, err.Error(), "capacity must be >= 0")
	})

	t.Run("fail_on_zero_duration", func(t *testing.T) {
		_, err := NewEvent("f", "t", start, 0, 1, now)
		assert.Error(t, err)
	})
}

func TestDerivedStatus(t *testing.T) {
	start := mustTime(t, "2026-06-01T10:00:00Z")
	e := Event{StartTime: start, DurationMinutes: 60}

	assert.Equal(t, StatusAwaiting, e.DerivedStatus(start.Add(-time.Second)))
	assert.Equal(t, StatusInProgress, e.DerivedStatus(start))
	assert.Equal(t, StatusInProgress, e.DerivedStatus(start.Add(59*time.Minute)))
	assert.Equal(t, StatusCompleted, e.DerivedStatus(start.Add(time.Hour)))

	e.Cancelled = true
	assert.Equal(t, StatusCancelled, e.DerivedStatus(start.Add(-time.Hour)))
	assert.Equal(t, StatusCancelled, e.DerivedStatus(start.Add(2*time.Hour)))
}

func TestClaimSeat_NeverNegative(t *testing.T) {
	now := mustTime(t, "2026-06-01T10:00:00Z")
	e := Event{AvailableCapacity: 1}

	assert.True(t, e.ClaimSeat(now))
	assert.False(t, e.ClaimSeat(now))
	assert.Equal(t, 0, e.AvailableCapacity)

	e.ReleaseSeat(now)
	assert.Equal(t, 1, e.AvailableCapacity)
}

func TestStartAndComplete(t *testing.T) {
	start := mustTime(t, "2026-06-01T10:00:00Z")
	e := Event{StartTime: start, DurationMinutes: 30, Status: StatusAwaiting}

	assert.False(t, e.Complete(start.Add(time.Hour)), "only IN_PROGRESS completes")
	assert.False(t, e.Start(start.Add(-time.Minute)))
	assert.True(t, e.Start(start))
	assert.False(t, e.Complete(start.Add(29*time.Minute)))
	assert.True(t, e.Complete(start.Add(30*time.Minute)))
	assert.Equal(t, StatusCompleted, e.Status)

	c := Event{StartTime: start, DurationMinutes: 30, Status: StatusAwaiting, Cancelled: true}
	assert.False(t, c.Start(start.Add(time.Minute)))
}

func TestErrorSentinels(t *testing.T) {
	err := errors.Join(errors.New("ctx"), ErrNotFound("event not found"))
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.NotErrorIs(t, err, ErrVersionConflict)
}
