package config

import (
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
)

const ServiceName = "event-service"

type Config struct {
	config.Common

	// Sweeps
	StartPeriod      time.Duration
	CompletionPeriod time.Duration
	SweepBatch       int

	// Redis & Caching. An empty RedisURL disables the read cache.
	RedisURL       string
	RedisPrefix    string
	CacheTTLDetail time.Duration

	// Rate Limiting on the read endpoint
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
}

func Load() (*Config, error) {
	common, err := config.LoadCommon(ServiceName)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Common: common}
	cfg.StartPeriod = config.Duration("EVENT_START_PERIOD", time.Minute)
	cfg.CompletionPeriod = config.Duration("EVENT_COMPLETION_PERIOD", time.Minute)
	cfg.SweepBatch = config.Int("EVENT_SWEEP_BATCH", 200)

	cfg.RedisURL = config.String("REDIS_URL", "")
	cfg.RedisPrefix = config.String("REDIS_PREFIX", "event-service:")
	cfg.CacheTTLDetail = config.Duration("EVENT_CACHE_TTL", 10*time.Second)

	cfg.RLEnabled = config.Bool("RL_ENABLED", true)
	cfg.RLLimit = config.Int("RL_IP_LIMIT", 100)
	cfg.RLWindow = config.Duration("RL_IP_WINDOW", time.Minute)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.StartPeriod <= 0 || c.CompletionPeriod <= 0 {
		return fmt.Errorf("EVENT_START_PERIOD and EVENT_COMPLETION_PERIOD must be positive")
	}
	if c.RLEnabled && (c.RLLimit <= 0 || c.RLWindow <= 0) {
		return fmt.Errorf("RL_IP_LIMIT and RL_IP_WINDOW must be positive when rate limiting is on")
	}
	return nil
}
