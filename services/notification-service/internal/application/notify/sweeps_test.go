package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpirySweep_ExpiresOnlyElapsedTokens(t *testing.T) {
	f := newFixture(t)
	f.seedToken(t, "old", 1, time.Hour, fixedNow.Add(-61*time.Minute))
	f.seedToken(t, "young", 2, time.Hour, fixedNow.Add(-59*time.Minute))

	sweep := notify.NewExpirySweep(f.repo, "notification-service", 0)
	assert.Equal(t, "confirmation_expiry", sweep.Name())

	n, err := sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, _ := f.repo.Get("old")
	young, _ := f.repo.Get("young")
	assert.Equal(t, domain.StatusExpired, old.Status)
	assert.Equal(t, domain.StatusAwaiting, young.Status)

	expired := f.pub.ByTopic(topics.BookingExpired.Topic())
	require.Len(t, expired, 1)
	env, err := contracts.Decode[contracts.BookingMessage](expired[0].Body)
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.Payload.BookingID)

	// Nothing left to expire on the next run.
	n, err = sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.pub.ByTopic(topics.BookingExpired.Topic()), 1)
}

func TestExpirySweep_SkipsConfirmed(t *testing.T) {
	f := newFixture(t)
	f.seedToken(t, "tok", 1, 30*time.Minute, fixedNow.Add(-10*time.Minute))
	_, err := f.svc.Confirm(context.Background(), "tok")
	require.NoError(t, err)

	n, err := notify.NewExpirySweep(f.repo, "notification-service", 10).Run(context.Background(), fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpirySweep_BatchLimit(t *testing.T) {
	f := newFixture(t)
	for i, tok := range []string{"a", "b", "c"} {
		f.seedToken(t, tok, int64(i+1), time.Minute, fixedNow.Add(-time.Hour))
	}

	n, err := notify.NewExpirySweep(f.repo, "notification-service", 2).Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPurgeSweep_DeletesPastRetention(t *testing.T) {
	f := newFixture(t)
	f.seedToken(t, "ancient", 1, 30*time.Minute, fixedNow.Add(-7*time.Hour))
	f.seedToken(t, "recent", 2, 30*time.Minute, fixedNow.Add(-time.Hour))

	sweep := notify.NewPurgeSweep(f.repo, 0)
	assert.Equal(t, "confirmation_purge", sweep.Name())

	n, err := sweep.Run(context.Background(), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := f.repo.Get("ancient")
	assert.False(t, ok)
	_, ok = f.repo.Get("recent")
	assert.True(t, ok)
}
