package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("EVENT_SERVICE_URL", "http://events:8081/")
	t.Setenv("BOOKING_BACKSTOP_HORIZON", "2h")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ServiceName, cfg.Service)
	assert.Equal(t, "http://events:8081", cfg.EventServiceURL)
	assert.Equal(t, 2*time.Hour, cfg.BackstopHorizon)
	assert.Equal(t, 10*time.Minute, cfg.BackstopPeriod)
}

func TestLoad_RejectsBadBackstop(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BOOKING_BACKSTOP_PERIOD", "0s")

	_, err := Load()
	assert.Error(t, err)
}
