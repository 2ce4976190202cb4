package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/messaging/messagingtest"
	"github.com/baechuer/event-booking/pkg/platform"
	"github.com/baechuer/event-booking/pkg/topics"
	ecfg "github.com/baechuer/event-booking/services/event-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *ecfg.Config {
	return &ecfg.Config{
		Common: config.Common{
			AppEnv:           "test",
			Service:          ecfg.ServiceName,
			StoreDriver:      config.DriverMemory,
			Concurrency:      1,
			OpTimeout:        time.Second,
			RetryMaxAttempts: 1,
			OpsAddr:          "127.0.0.1:0",
		},
		StartPeriod:      time.Hour,
		CompletionPeriod: time.Hour,
	}
}

func TestWire_UnknownEventIsDeadLettered(t *testing.T) {
	src := messagingtest.NewSource()
	pub := &messagingtest.Publisher{}

	app, cleanup, err := Wire(context.Background(), testConfig(), platform.Options{Source: src, Publisher: pub})
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, app.Start(context.Background()))

	msg, err := messaging.NewMessage(topics.BookingConfirmed, "notification-service", contracts.BookingMessage{
		BookingID: 5, Email: "ana@example.com", Username: "ana", EventID: 404,
	}, time.Now())
	require.NoError(t, err)

	d := src.Push(messaging.Record{Topic: msg.Topic, Key: msg.Key, MessageID: msg.MessageID, Body: msg.Body})
	select {
	case <-d.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("record not settled")
	}
	assert.True(t, d.Acked())

	dead := pub.ByTopic(topics.DeadLetter(msg.Topic))
	require.Len(t, dead, 1)
	assert.Equal(t, "permanent", dead[0].Headers["x-dlt-reason"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
}

func TestWire_ReadEndpointWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"
	cfg.RedisPrefix = "test:"

	app, cleanup, err := Wire(context.Background(), cfg, platform.Options{
		Source:    messagingtest.NewSource(),
		Publisher: &messagingtest.Publisher{},
	})
	require.NoError(t, err)
	defer cleanup()

	p, ok := app.(*platform.Platform)
	require.True(t, ok)
	assert.Contains(t, p.Registry.Names(), "redis")

	rr := httptest.NewRecorder()
	p.HTTP.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events/1", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	p.HTTP.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, app.Stop(context.Background()))
}
