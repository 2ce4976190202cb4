//go:build integration
// +build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/messaging/messagingtest"
	pgpkg "github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/topics"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/baechuer/event-booking/services/notification-service/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T, pub messaging.Publisher) *Repository {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgpkg.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pgpkg.Migrate(ctx, pool, Schema))
	_, err = pool.Exec(ctx, `TRUNCATE TABLE booking_confirmations`)
	require.NoError(t, err)

	relay := messaging.Relay{Pub: pub, Policy: retry.Policy{MaxAttempts: 1}, Logger: zerolog.Nop()}
	return New(pgpkg.NewUnitOfWork(pool, relay, false, zerolog.Nop()))
}

func TestFindLive(t *testing.T) {
	r := setupRepo(t, &messagingtest.Publisher{})
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	old := domain.NewConfirmation("old", 1, 9, "ana", "ana@example.com", 30*time.Minute, now.Add(-40*time.Minute))
	live := domain.NewConfirmation("live", 1, 9, "ana", "ana@example.com", 30*time.Minute, now.Add(-10*time.Minute))
	require.NoError(t, r.Insert(ctx, old))
	require.NoError(t, r.Insert(ctx, live))

	got, ok, err := r.FindLive(ctx, 1, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "live", got.Token)

	_, ok, err = r.FindLive(ctx, 2, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpirySweep_WindowBoundary(t *testing.T) {
	pub := &messagingtest.Publisher{}
	r := setupRepo(t, pub)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, r.Insert(ctx, domain.NewConfirmation("late", 1, 9, "ana", "ana@example.com", time.Hour, now.Add(-61*time.Minute))))
	require.NoError(t, r.Insert(ctx, domain.NewConfirmation("early", 2, 9, "bob", "bob@example.com", time.Hour, now.Add(-59*time.Minute))))

	n, err := notify.NewExpirySweep(r, "notification-service", 0).Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	late, err := r.Get(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, late.Status)
	early, err := r.Get(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaiting, early.Status)

	assert.Len(t, pub.ByTopic(topics.BookingExpired.Topic()), 1)
}

func TestDeleteCreatedBefore(t *testing.T) {
	r := setupRepo(t, &messagingtest.Publisher{})
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, r.Insert(ctx, domain.NewConfirmation("stale", 1, 9, "ana", "ana@example.com", 30*time.Minute, now.Add(-7*time.Hour))))
	require.NoError(t, r.Insert(ctx, domain.NewConfirmation("fresh", 2, 9, "bob", "bob@example.com", 30*time.Minute, now.Add(-time.Hour))))

	n, err := r.DeleteCreatedBefore(ctx, now.Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.Get(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrConfirmationNotFound)
}
