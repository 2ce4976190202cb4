package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	mu     sync.Mutex
	views  map[int64]lifecycle.EventView
	errs   map[int64]error
	called []int64
}

func (f *fakeEvents) GetEvent(_ context.Context, id int64) (lifecycle.EventView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, id)
	if err, ok := f.errs[id]; ok {
		return lifecycle.EventView{}, err
	}
	v, ok := f.views[id]
	if !ok {
		return lifecycle.EventView{}, lifecycle.ErrEventNotFound
	}
	return v, nil
}

func (f *fixture) seedAt(t *testing.T, eventID int64, status domain.BookingStatus, user string, at time.Time) domain.Booking {
	t.Helper()
	b, err := f.repo.Insert(context.Background(), domain.Booking{
		EventID:       eventID,
		Username:      user,
		Email:         user + "@example.com",
		Status:        status,
		EventDateTime: at,
	})
	require.NoError(t, err)
	return b
}

func TestCompletionBackstop_SettlesByEventStatus(t *testing.T) {
	f := newFixture(t)
	old := fixedNow.Add(-10 * time.Hour)

	done := f.seedAt(t, 1, domain.StatusConfirmed, "alice", old)
	gone := f.seedAt(t, 2, domain.StatusInProgress, "bob", old)
	running := f.seedAt(t, 3, domain.StatusConfirmed, "carol", old)
	unknown := f.seedAt(t, 4, domain.StatusConfirmed, "dave", old)
	recent := f.seedAt(t, 1, domain.StatusConfirmed, "erin", fixedNow.Add(-time.Hour))

	events := &fakeEvents{views: map[int64]lifecycle.EventView{
		1: {ID: 1, Status: lifecycle.EventCompleted},
		2: {ID: 2, Status: lifecycle.EventCancelled},
		3: {ID: 3, Status: lifecycle.EventInProgress},
	}}
	sweep := lifecycle.NewCompletionBackstop(f.svc, events, retry.Policy{MaxAttempts: 1}, 6*time.Hour, 100)

	n, err := sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)

	// Completing event 1 also completes the recent booking of the same event.
	assert.Equal(t, 3, n)
	assert.Equal(t, domain.StatusCompleted, f.status(t, done.ID))
	assert.Equal(t, domain.StatusCompleted, f.status(t, recent.ID))
	assert.Equal(t, domain.StatusCancelled, f.status(t, gone.ID))
	assert.Equal(t, domain.StatusConfirmed, f.status(t, running.ID))
	assert.Equal(t, domain.StatusConfirmed, f.status(t, unknown.ID))

	assert.Len(t, f.pub.ByTopic(topics.BookingsCancelled.Topic()), 1)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, events.called)
}

func TestCompletionBackstop_LookupFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	old := fixedNow.Add(-10 * time.Hour)
	a := f.seedAt(t, 1, domain.StatusConfirmed, "alice", old)
	b := f.seedAt(t, 2, domain.StatusConfirmed, "bob", old)

	events := &fakeEvents{
		views: map[int64]lifecycle.EventView{2: {ID: 2, Status: lifecycle.EventCompleted}},
		errs:  map[int64]error{1: fault.Transient(errors.New("event service 503"))},
	}
	sweep := lifecycle.NewCompletionBackstop(f.svc, events, retry.Policy{MaxAttempts: 1}, 6*time.Hour, 100)

	n, err := sweep.Run(context.Background(), fixedNow)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusConfirmed, f.status(t, a.ID))
	assert.Equal(t, domain.StatusCompleted, f.status(t, b.ID))
}

func TestCompletionBackstop_OpenEventsDoNotStarveLaterOnes(t *testing.T) {
	f := newFixture(t)
	old := fixedNow.Add(-10 * time.Hour)
	long := f.seedAt(t, 1, domain.StatusConfirmed, "alice", old.Add(-time.Hour))
	missing := f.seedAt(t, 2, domain.StatusConfirmed, "bob", old)
	done := f.seedAt(t, 3, domain.StatusConfirmed, "carol", old)

	events := &fakeEvents{views: map[int64]lifecycle.EventView{
		1: {ID: 1, Status: lifecycle.EventInProgress},
		3: {ID: 3, Status: lifecycle.EventCompleted},
	}}
	sweep := lifecycle.NewCompletionBackstop(f.svc, events, retry.Policy{MaxAttempts: 1}, 6*time.Hour, 1)

	n, err := sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1, 2, 3}, events.called)
	assert.Equal(t, domain.StatusConfirmed, f.status(t, long.ID))
	assert.Equal(t, domain.StatusConfirmed, f.status(t, missing.ID))
	assert.Equal(t, domain.StatusCompleted, f.status(t, done.ID))

	// The next run still looks at every open event once.
	events.called = nil
	_, err = sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, events.called)
}

func TestCompletionBackstop_Name(t *testing.T) {
	f := newFixture(t)
	sweep := lifecycle.NewCompletionBackstop(f.svc, &fakeEvents{}, retry.Policy{}, time.Hour, 0)
	assert.Equal(t, "booking_completion_backstop", sweep.Name())
}
