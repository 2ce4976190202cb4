package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func setup(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromClient(rdb, "evt:"), mr
}

func TestClient_SetGetDelete(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	var got row
	found, err := c.Get(ctx, "event:1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "event:1", row{ID: 1, Title: "Go meetup"}, time.Minute))
	assert.True(t, mr.Exists("evt:event:1"))

	found, err = c.Get(ctx, "event:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Go meetup", got.Title)

	require.NoError(t, c.Delete(ctx, "event:1", "event:2"))
	assert.False(t, mr.Exists("evt:event:1"))
}

func TestClient_TTLExpires(t *testing.T) {
	c, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "event:7", row{ID: 7}, 10*time.Second))
	mr.FastForward(11 * time.Second)

	var got row
	found, err := c.Get(ctx, "event:7", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_CorruptValueIsAMiss(t *testing.T) {
	c, mr := setup(t)
	require.NoError(t, mr.Set("evt:event:3", "not-json"))

	var got row
	found, err := c.Get(context.Background(), "event:3", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("evt:event:3"))
}

func TestClient_Unavailable(t *testing.T) {
	c, mr := setup(t)
	mr.Close()

	var got row
	_, err := c.Get(context.Background(), "event:1", &got)
	assert.Error(t, err)
}
