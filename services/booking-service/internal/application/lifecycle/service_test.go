package lifecycle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/messaging/messagingtest"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	"github.com/baechuer/event-booking/services/booking-service/internal/domain"
	"github.com/baechuer/event-booking/services/booking-service/internal/infrastructure/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo *memory.Repository
	pub  *messagingtest.Publisher
	svc  *lifecycle.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub := &messagingtest.Publisher{}
	relay := messaging.Relay{Pub: pub, Policy: retry.Policy{Name: "publish", MaxAttempts: 1}, Logger: zerolog.Nop()}
	repo := memory.New(relay)
	svc := lifecycle.NewService(repo, relay, retry.Policy{Name: "ops", MaxAttempts: 1}, "booking-service").
		WithClock(func() time.Time { return fixedNow })
	return &fixture{repo: repo, pub: pub, svc: svc}
}

func (f *fixture) seed(t *testing.T, eventID int64, status domain.BookingStatus, user string) domain.Booking {
	t.Helper()
	b, err := f.repo.Insert(context.Background(), domain.Booking{
		EventID:       eventID,
		Username:      user,
		Email:         user + "@example.com",
		Status:        status,
		EventDateTime: fixedNow.Add(48 * time.Hour),
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) status(t *testing.T, id int64) domain.BookingStatus {
	t.Helper()
	b, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return b.Status
}

func bookingMsg(b domain.Booking) contracts.BookingMessage {
	return contracts.BookingMessage{
		BookingID: b.ID,
		Email:     b.Email,
		Username:  b.Username,
		EventID:   b.EventID,
	}
}

func TestBookingConfirmed_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, 1, domain.StatusInProgress, "alice")

	require.NoError(t, f.svc.BookingConfirmed(ctx, bookingMsg(b)))
	require.NoError(t, f.svc.BookingConfirmed(ctx, bookingMsg(b)))

	got, err := f.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, int64(1), got.Version, "second delivery must not write")
	assert.Empty(t, f.pub.All())
}

func TestTerminalStatusesAreNeverLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.seed(t, 2, domain.StatusInProgress, "bob")

	require.NoError(t, f.svc.BookingExpired(ctx, bookingMsg(b)))
	require.Equal(t, domain.StatusCancelled, f.status(t, b.ID))

	require.NoError(t, f.svc.BookingConfirmed(ctx, bookingMsg(b)))
	require.NoError(t, f.svc.EventCompleted(ctx, contracts.EventMessage{EventID: 2}))
	assert.Equal(t, domain.StatusCancelled, f.status(t, b.ID))

	c := f.seed(t, 3, domain.StatusConfirmed, "carol")
	require.NoError(t, f.svc.EventCompleted(ctx, contracts.EventMessage{EventID: 3}))
	require.Equal(t, domain.StatusCompleted, f.status(t, c.ID))

	require.NoError(t, f.svc.BookingEventUnavailable(ctx, bookingMsg(c)))
	require.NoError(t, f.svc.EventCancelled(ctx, contracts.EventMessage{EventID: 3}))
	assert.Equal(t, domain.StatusCompleted, f.status(t, c.ID))
}

func TestBookingExpired_OnlyFromInProgress(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 4, domain.StatusConfirmed, "dave")

	require.NoError(t, f.svc.BookingExpired(context.Background(), bookingMsg(b)))
	assert.Equal(t, domain.StatusConfirmed, f.status(t, b.ID))
}

func TestBookingEventUnavailable_CancelsConfirmed(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 5, domain.StatusConfirmed, "erin")

	require.NoError(t, f.svc.BookingEventUnavailable(context.Background(), bookingMsg(b)))
	assert.Equal(t, domain.StatusCancelled, f.status(t, b.ID))
}

func TestBookingConfirmed_UnknownBookingIsPermanent(t *testing.T) {
	f := newFixture(t)
	err := f.svc.BookingConfirmed(context.Background(), contracts.BookingMessage{
		BookingID: 404, Email: "x@example.com", Username: "x", EventID: 1,
	})
	require.Error(t, err)
	assert.True(t, fault.IsPermanent(err))
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestBookingConfirmed_EventMismatchIsPermanent(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 6, domain.StatusInProgress, "frank")
	msg := bookingMsg(b)
	msg.EventID = 7

	err := f.svc.BookingConfirmed(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, fault.KindPermanent, fault.Classify(err))
	assert.Equal(t, domain.StatusInProgress, f.status(t, b.ID))
}

func TestEventCancelled_FansOutOneMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seed(t, 10, domain.StatusInProgress, "alice")
	b := f.seed(t, 10, domain.StatusConfirmed, "bob")
	f.seed(t, 10, domain.StatusCancelled, "carol")
	other := f.seed(t, 11, domain.StatusConfirmed, "dave")

	require.NoError(t, f.svc.EventCancelled(ctx, contracts.EventMessage{EventID: 10, Note: "venue flooded"}))

	assert.Equal(t, domain.StatusCancelled, f.status(t, a.ID))
	assert.Equal(t, domain.StatusCancelled, f.status(t, b.ID))
	assert.Equal(t, domain.StatusConfirmed, f.status(t, other.ID))

	msgs := f.pub.ByTopic(topics.BookingsCancelled.Topic())
	require.Len(t, msgs, 1)
	assert.Equal(t, "10", msgs[0].Key)

	env, err := contracts.Decode[contracts.BookingsMessage](msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "venue flooded", env.Payload.Note)
	require.Len(t, env.Payload.Bookings, 2)
	assert.Equal(t, a.ID, env.Payload.Bookings[0].BookingID)
	assert.Equal(t, b.ID, env.Payload.Bookings[1].BookingID)
}

func TestEventCancelled_RedeliveryPublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 12, domain.StatusConfirmed, "alice")

	require.NoError(t, f.svc.EventCancelled(ctx, contracts.EventMessage{EventID: 12}))
	require.NoError(t, f.svc.EventCancelled(ctx, contracts.EventMessage{EventID: 12}))
	assert.Len(t, f.pub.All(), 1)
}

func TestEventCancelled_PublishFailureLeavesBookingsOpen(t *testing.T) {
	f := newFixture(t)
	f.pub.Err = fault.Transient(errors.New("broker unavailable"))
	b := f.seed(t, 13, domain.StatusConfirmed, "alice")

	err := f.svc.EventCancelled(context.Background(), contracts.EventMessage{EventID: 13})
	require.Error(t, err)
	assert.Equal(t, domain.StatusConfirmed, f.status(t, b.ID))
}

func TestEventChanged_PublishesBundleWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seed(t, 20, domain.StatusInProgress, "alice")
	f.seed(t, 20, domain.StatusConfirmed, "bob")
	f.seed(t, 20, domain.StatusCancelled, "carol")

	require.NoError(t, f.svc.EventChanged(ctx, contracts.EventMessage{EventID: 20, Note: "moved to 7pm"}))

	msgs := f.pub.ByTopic(topics.BookingsUpdated.Topic())
	require.Len(t, msgs, 1)
	env, err := contracts.Decode[contracts.BookingsMessage](msgs[0].Body)
	require.NoError(t, err)
	assert.Len(t, env.Payload.Bookings, 2)
	assert.Equal(t, "moved to 7pm", env.Payload.Note)

	got, err := f.repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

func TestEventChanged_NoOpenBookings(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 21, domain.StatusCompleted, "alice")

	require.NoError(t, f.svc.EventChanged(context.Background(), contracts.EventMessage{EventID: 21}))
	assert.Empty(t, f.pub.All())
}

func TestEventCompleted_LeavesCancelledAlone(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, 30, domain.StatusInProgress, "alice")
	b := f.seed(t, 30, domain.StatusCancelled, "bob")

	require.NoError(t, f.svc.EventCompleted(context.Background(), contracts.EventMessage{EventID: 30}))
	assert.Equal(t, domain.StatusCompleted, f.status(t, a.ID))
	assert.Equal(t, domain.StatusCancelled, f.status(t, b.ID))
	assert.Empty(t, f.pub.All())
}

func TestRoutes_DecodeFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	routes := f.svc.Routes()
	require.Len(t, routes, 6)

	var h messaging.Handler
	for _, r := range routes {
		if r.Kind == topics.BookingConfirmed {
			h = r.Handler
		}
	}
	require.NotNil(t, h)

	err := h.Handle(context.Background(), messaging.Record{Topic: "booking-confirmed", Key: "1", Body: []byte(`{not json`)})
	require.Error(t, err)
	assert.True(t, fault.IsDecode(err))
}

func TestRoutes_HandlerAppliesPayload(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, 40, domain.StatusInProgress, "alice")

	msg, err := messaging.NewMessage(topics.BookingConfirmed, "notification-service", bookingMsg(b), fixedNow)
	require.NoError(t, err)

	for _, r := range f.svc.Routes() {
		if r.Kind == topics.BookingConfirmed {
			require.NoError(t, r.Handler.Handle(context.Background(), messaging.Record{
				Topic: msg.Topic, Key: msg.Key, MessageID: msg.MessageID, Body: msg.Body,
			}))
		}
	}
	assert.Equal(t, domain.StatusConfirmed, f.status(t, b.ID))
}
