package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetters(t *testing.T) {
	t.Setenv("X_STR", "  hello ")
	t.Setenv("X_INT", "42")
	t.Setenv("X_BAD_INT", "forty")
	t.Setenv("X_DUR", "1500ms")
	t.Setenv("X_FLOAT", "0.25")

	assert.Equal(t, "hello", String("X_STR", "def"))
	assert.Equal(t, "def", String("X_MISSING", "def"))
	assert.Equal(t, 42, Int("X_INT", 1))
	assert.Equal(t, 1, Int("X_BAD_INT", 1))
	assert.Equal(t, 1500*time.Millisecond, Duration("X_DUR", time.Second))
	assert.Equal(t, 0.25, Float("X_FLOAT", 0.7))
	assert.Equal(t, "b", FirstNonEmpty("", "  ", "b", "c"))
}

func TestBool(t *testing.T) {
	t.Setenv("X_ON", "yes")
	t.Setenv("X_OFF", "0")
	t.Setenv("X_JUNK", "maybe")

	assert.True(t, Bool("X_ON", false))
	assert.False(t, Bool("X_OFF", true))
	assert.True(t, Bool("X_MISSING", true))
	assert.Panics(t, func() { Bool("X_JUNK", false) })
}

func TestPostgresURL(t *testing.T) {
	got := PostgresURL("db:5432", "app", "p@ss/word", "bookings", "disable")
	assert.Equal(t, "postgres://app:p%40ss%2Fword@db:5432/bookings?sslmode=disable", got)
	assert.Empty(t, PostgresURL("", "app", "x", "bookings", "disable"))
}

func TestLoadCommon(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u@localhost/db")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CONSUMER_CONCURRENCY", "8")

	c, err := LoadCommon("booking-service")
	require.NoError(t, err)
	assert.Equal(t, "booking-service", c.Service)
	assert.Equal(t, DriverPostgres, c.StoreDriver)
	assert.Equal(t, 8, c.Concurrency)
	assert.Equal(t, 3, c.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.RetryBaseBackoff)
	assert.Equal(t, 0.7, c.RetryJitter)
	assert.Equal(t, "booking.events", c.RabbitExchange)
}

func TestValidate(t *testing.T) {
	base := Common{StoreDriver: DriverMemory, Concurrency: 1, RetryMaxAttempts: 3, RetryJitter: 0.7}
	require.NoError(t, base.Validate())

	noDSN := base
	noDSN.StoreDriver = DriverPostgres
	assert.Error(t, noDSN.Validate())

	outbox := base
	outbox.OutboxEnabled = true
	assert.Error(t, outbox.Validate())

	jitter := base
	jitter.RetryJitter = 1
	assert.Error(t, jitter.Validate())
}
