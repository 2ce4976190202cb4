package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/messaging/messagingtest"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/domain"
	"github.com/baechuer/event-booking/services/event-service/internal/infrastructure/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// mapCache stores JSON like the redis client does.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	getErr  error
	deleted []string
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, c.getErr
	}
	b, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *mapCache) Set(_ context.Context, key string, val any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.data[key] = b
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func newRepo(t *testing.T) *memory.Repository {
	t.Helper()
	relay := messaging.Relay{Pub: &messagingtest.Publisher{}, Policy: retry.Policy{Name: "publish", MaxAttempts: 1}, Logger: zerolog.Nop()}
	return memory.New(relay)
}

func TestGet_DerivesStatusAtReadTime(t *testing.T) {
	repo := newRepo(t)
	ev, err := repo.Insert(context.Background(), domain.Event{
		Title:             "Go meetup",
		StartTime:         fixedNow.Add(-30 * time.Minute),
		DurationMinutes:   60,
		AvailableCapacity: 4,
		Status:            domain.StatusAwaiting,
	})
	require.NoError(t, err)

	now := fixedNow
	svc := event.New(repo, event.ClockFunc(func() time.Time { return now }), newMapCache(), retry.Policy{MaxAttempts: 1}, 0)

	v, err := svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, v.Status)
	assert.Equal(t, fixedNow.Add(30*time.Minute), v.EndTime)
	assert.Equal(t, 4, v.AvailableCapacity)

	// Served from cache, still derived against the clock.
	now = fixedNow.Add(time.Hour)
	v, err = svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, v.Status)
}

func TestGet_CacheHitAndForget(t *testing.T) {
	repo := newRepo(t)
	ev, err := repo.Insert(context.Background(), domain.Event{
		Title: "Go meetup", StartTime: fixedNow.Add(time.Hour), DurationMinutes: 60, AvailableCapacity: 2, Status: domain.StatusAwaiting,
	})
	require.NoError(t, err)

	cache := newMapCache()
	svc := event.New(repo, event.ClockFunc(func() time.Time { return fixedNow }), cache, retry.Policy{MaxAttempts: 1}, time.Minute)

	_, err = svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	require.Contains(t, cache.data, "event:1")

	// A stale cached row wins until Forget drops it.
	cache.data["event:1"] = []byte(`{"ID":1,"Title":"stale","StartTime":"2026-05-01T11:00:00Z","DurationMinutes":60,"AvailableCapacity":9}`)
	v, err := svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "stale", v.Title)

	svc.Forget(context.Background(), ev.ID)
	assert.Equal(t, []string{"event:1"}, cache.deleted)
	v, err = svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go meetup", v.Title)
}

func TestGet_CacheErrorFallsBackToStore(t *testing.T) {
	repo := newRepo(t)
	ev, err := repo.Insert(context.Background(), domain.Event{
		Title: "Go meetup", StartTime: fixedNow.Add(time.Hour), DurationMinutes: 60, Status: domain.StatusAwaiting,
	})
	require.NoError(t, err)

	cache := newMapCache()
	cache.getErr = errors.New("redis down")
	svc := event.New(repo, event.ClockFunc(func() time.Time { return fixedNow }), cache, retry.Policy{MaxAttempts: 1}, 0)

	v, err := svc.Get(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.ID, v.ID)
}

func TestGet_Errors(t *testing.T) {
	svc := event.New(newRepo(t), event.ClockFunc(func() time.Time { return fixedNow }), nil, retry.Policy{MaxAttempts: 1}, 0)

	_, err := svc.Get(context.Background(), 0)
	var ae *domain.AppError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, domain.CodeValidation, ae.Code)

	_, err = svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
