package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/contracts"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/messaging/messagingtest"
	"github.com/baechuer/event-booking/pkg/platform"
	"github.com/baechuer/event-booking/pkg/topics"
	bcfg "github.com/baechuer/event-booking/services/booking-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWire_UnknownBookingIsDeadLettered(t *testing.T) {
	cfg := &bcfg.Config{Common: config.Common{
		AppEnv:           "test",
		Service:          bcfg.ServiceName,
		StoreDriver:      config.DriverMemory,
		Concurrency:      1,
		OpTimeout:        time.Second,
		RetryMaxAttempts: 1,
		OpsAddr:          "127.0.0.1:0",
	}}
	src := messagingtest.NewSource()
	pub := &messagingtest.Publisher{}

	app, cleanup, err := Wire(context.Background(), cfg, platform.Options{Source: src, Publisher: pub})
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, app.Start(context.Background()))

	msg, err := messaging.NewMessage(topics.BookingConfirmed, "notification-service", contracts.BookingMessage{
		BookingID: 99, Email: "ghost@example.com", Username: "ghost", EventID: 1,
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
	assert.Equal(t, "99", dead[0].Key)
	assert.Equal(t, msg.MessageID, dead[0].MessageID)
	assert.Equal(t, "permanent", dead[0].Headers["x-dlt-reason"])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
}
