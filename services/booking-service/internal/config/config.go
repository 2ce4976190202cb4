package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
)

const ServiceName = "booking-service"

type Config struct {
	config.Common

	// Booking -> event read used by the backstop sweep.
	EventServiceURL  string
	EventHTTPTimeout time.Duration

	BackstopEnabled bool
	BackstopPeriod  time.Duration
	BackstopHorizon time.Duration
	BackstopBatch   int
}

func Load() (*Config, error) {
	common, err := config.LoadCommon(ServiceName)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Common: common}
	cfg.EventServiceURL = strings.TrimRight(config.String("EVENT_SERVICE_URL", "http://localhost:8081"), "/")
	cfg.EventHTTPTimeout = config.Duration("EVENT_HTTP_TIMEOUT", 5*time.Second)

	cfg.BackstopEnabled = config.Bool("BOOKING_BACKSTOP_ENABLED", true)
	cfg.BackstopPeriod = config.Duration("BOOKING_BACKSTOP_PERIOD", 10*time.Minute)
	cfg.BackstopHorizon = config.Duration("BOOKING_BACKSTOP_HORIZON", 6*time.Hour)
	cfg.BackstopBatch = config.Int("BOOKING_BACKSTOP_BATCH", 500)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BackstopEnabled {
		if c.EventServiceURL == "" {
			return fmt.Errorf("EVENT_SERVICE_URL is required when the backstop sweep is enabled")
		}
		if c.BackstopPeriod <= 0 || c.BackstopHorizon <= 0 {
			return fmt.Errorf("BOOKING_BACKSTOP_PERIOD and BOOKING_BACKSTOP_HORIZON must be positive")
		}
	}
	return nil
}
