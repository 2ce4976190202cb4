package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) seedToken(t *testing.T, token string, bookingID int64, validity time.Duration, createdAt time.Time) {
	t.Helper()
	c := domain.NewConfirmation(token, bookingID, 3, "ana", "ana@example.com", validity, createdAt)
	require.NoError(t, f.repo.Insert(context.Background(), c))
}

func TestConfirm_EmitsBookingConfirmedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedToken(t, "tok-1", 7, 30*time.Minute, fixedNow.Add(-5*time.Minute))

	c, err := f.svc.Confirm(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, c.Status)

	stored, _ := f.repo.Get("tok-1")
	assert.Equal(t, domain.StatusConfirmed, stored.Status)

	confirmed := f.pub.ByTopic(topics.BookingConfirmed.Topic())
	require.Len(t, confirmed, 1)
	env, err := contracts.Decode[contracts.BookingMessage](confirmed[0].Body)
	require.NoError(t, err)
	assert.Equal(t, int64(7), env.Payload.BookingID)
	assert.Equal(t, "ana@example.com", env.Payload.Email)

	again, err := f.svc.Confirm(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, again.Status)
	assert.Len(t, f.pub.ByTopic(topics.BookingConfirmed.Topic()), 1)
}

func TestConfirm_ElapsedWindowIsRejected(t *testing.T) {
	f := newFixture(t)
	f.seedToken(t, "tok-1", 7, 30*time.Minute, fixedNow.Add(-30*time.Minute))

	_, err := f.svc.Confirm(context.Background(), "tok-1")
	assert.ErrorIs(t, err, domain.ErrConfirmationExpired)
	assert.Empty(t, f.pub.All())

	stored, _ := f.repo.Get("tok-1")
	assert.Equal(t, domain.StatusAwaiting, stored.Status)
}

func TestConfirm_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Confirm(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)

	_, err = f.svc.Confirm(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
}

func TestConfirm_PublishFailureLeavesTokenAwaiting(t *testing.T) {
	f := newFixture(t)
	f.seedToken(t, "tok-1", 7, 30*time.Minute, fixedNow)
	f.pub.Err = assert.AnError

	_, err := f.svc.Confirm(context.Background(), "tok-1")
	require.Error(t, err)

	stored, _ := f.repo.Get("tok-1")
	assert.Equal(t, domain.StatusAwaiting, stored.Status)
}
