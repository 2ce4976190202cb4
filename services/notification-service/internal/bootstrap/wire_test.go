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
	ncfg "github.com/baechuer/event-booking/services/notification-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *ncfg.Config {
	return &ncfg.Config{
		Common: config.Common{
			AppEnv:           "test",
			Service:          ncfg.ServiceName,
			StoreDriver:      config.DriverMemory,
			Concurrency:      1,
			OpTimeout:        time.Second,
			RetryMaxAttempts: 1,
			OpsAddr:          "127.0.0.1:0",
		},
		EmailSender:           "fake",
		EmailPublicBaseURL:    "http://localhost:8083",
		ConfirmationValidity:  30 * time.Minute,
		ConfirmationRetention: 6 * time.Hour,
		ExpiryPeriod:          time.Hour,
		PurgePeriod:           time.Hour,
	}
}

func push(t *testing.T, src *messagingtest.Source, msg messaging.Message) *messagingtest.Delivery {
	t.Helper()
	d := src.Push(messaging.Record{Topic: msg.Topic, Key: msg.Key, MessageID: msg.MessageID, Body: msg.Body})
	select {
	case <-d.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("record not settled")
	}
	return d
}

func TestWire_BookingCreatedAndFailures(t *testing.T) {
	t.Setenv("FAKE_FAIL_MODE", "")
	src := messagingtest.NewSource()
	pub := &messagingtest.Publisher{}

	app, cleanup, err := Wire(context.Background(), testConfig(), platform.Options{Source: src, Publisher: pub})
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, app.Start(context.Background()))

	created, err := messaging.NewMessage(topics.BookingCreated, "booking-service", contracts.BookingMessage{
		BookingID: 1, Email: "ana@example.com", Username: "ana", EventID: 2,
	}, time.Now())
	require.NoError(t, err)
	assert.True(t, push(t, src, created).Acked())
	assert.Empty(t, pub.ByTopic(topics.DeadLetter(created.Topic)))

	broken := messaging.Record{Topic: topics.BookingCancelled.Topic(), Key: "9", MessageID: "m-9", Body: []byte(`{not json`)}
	d := src.Push(broken)
	select {
	case <-d.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("record not settled")
	}
	dead := pub.ByTopic(topics.DeadLetter(broken.Topic))
	require.Len(t, dead, 1)
	assert.Equal(t, "decode", dead[0].Headers["x-dlt-reason"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
}

func TestWire_ConfirmEndpointWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisEnabled = true
	cfg.RedisAddr = mr.Addr()

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
	p.HTTP.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/bookings/confirm?token=nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	p.HTTP.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, app.Stop(context.Background()))
}

func TestWire_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisEnabled = true
	cfg.RedisAddr = "127.0.0.1:1"

	_, _, err := Wire(context.Background(), cfg, platform.Options{
		Source:    messagingtest.NewSource(),
		Publisher: &messagingtest.Publisher{},
	})
	assert.Error(t, err)
}
