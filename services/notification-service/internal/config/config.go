package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
)

const ServiceName = "notification-service"

type Config struct {
	config.Common

	// Email / SMTP
	EmailSender string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTimeout  time.Duration
	SMTPInsecure bool // dev/it only

	EmailPublicBaseURL string

	// Circuit breaker around the email provider
	BreakerFailures int
	BreakerReset    time.Duration
	BreakerHalfOpen int

	// Confirmation tokens
	ConfirmationValidity  time.Duration
	ConfirmationRetention time.Duration
	ExpiryPeriod          time.Duration
	PurgePeriod           time.Duration
	ExpiryBatch           int

	// Redis (sent-email idempotency)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EmailIdempotencyTTL time.Duration

	// HTTP rate limiting on the confirmation link
	RLEnabled     bool
	RLIPLimit     int
	RLIPWindow    time.Duration
	RLTokenLimit  int
	RLTokenWindow time.Duration
}

func Load() (*Config, error) {
	common, err := config.LoadCommon(ServiceName)
	if err != nil {
		return nil, err
	}
	cfg := &Config{Common: common}

	cfg.EmailSender = strings.ToLower(config.String("EMAIL_SENDER", "fake"))

	cfg.SMTPHost = config.String("SMTP_HOST", "")
	cfg.SMTPPort = config.Int("SMTP_PORT", 587)
	cfg.SMTPUsername = config.String("SMTP_USERNAME", "")
	cfg.SMTPPassword = config.String("SMTP_PASSWORD", "")
	cfg.SMTPFrom = config.String("SMTP_FROM", cfg.SMTPUsername)
	cfg.SMTPTimeout = config.Duration("SMTP_TIMEOUT", 10*time.Second)
	cfg.SMTPInsecure = config.Bool("SMTP_INSECURE", false)

	cfg.EmailPublicBaseURL = strings.TrimRight(config.String("EMAIL_PUBLIC_BASE_URL", "http://localhost:8083"), "/")

	cfg.BreakerFailures = config.Int("EMAIL_BREAKER_FAILURES", 5)
	cfg.BreakerReset = config.Duration("EMAIL_BREAKER_RESET", 30*time.Second)
	cfg.BreakerHalfOpen = config.Int("EMAIL_BREAKER_HALF_OPEN", 2)

	cfg.ConfirmationValidity = config.Duration("CONFIRMATION_VALIDITY", 30*time.Minute)
	cfg.ConfirmationRetention = config.Duration("CONFIRMATION_RETENTION", 6*time.Hour)
	cfg.ExpiryPeriod = config.Duration("CONFIRMATION_EXPIRY_PERIOD", time.Minute)
	cfg.PurgePeriod = config.Duration("CONFIRMATION_PURGE_PERIOD", 30*time.Minute)
	cfg.ExpiryBatch = config.Int("CONFIRMATION_EXPIRY_BATCH", 200)

	cfg.RedisEnabled = config.Bool("REDIS_ENABLED", false)
	cfg.RedisAddr = config.String("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = config.String("REDIS_PASSWORD", "")
	cfg.RedisDB = config.Int("REDIS_DB", 0)

	cfg.EmailIdempotencyTTL = config.Duration("EMAIL_IDEMPOTENCY_TTL", 24*time.Hour)

	cfg.RLEnabled = config.Bool("RL_ENABLED", true)
	cfg.RLIPLimit = config.Int("RL_IP_LIMIT", 30)
	cfg.RLIPWindow = config.Duration("RL_IP_WINDOW", time.Minute)
	cfg.RLTokenLimit = config.Int("RL_TOKEN_LIMIT", 10)
	cfg.RLTokenWindow = config.Duration("RL_TOKEN_WINDOW", 10*time.Minute)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EmailSender {
	case "fake":
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("smtp sender selected but missing SMTP_HOST")
		}
		if c.SMTPFrom == "" {
			return fmt.Errorf("smtp sender selected but missing SMTP_FROM")
		}
	default:
		return fmt.Errorf("unknown EMAIL_SENDER %q (want fake|smtp)", c.EmailSender)
	}
	if c.ConfirmationValidity < time.Minute || c.ConfirmationValidity%time.Minute != 0 {
		return fmt.Errorf("CONFIRMATION_VALIDITY must be a whole number of minutes, at least 1m")
	}
	if c.ConfirmationRetention < c.ConfirmationValidity {
		return fmt.Errorf("CONFIRMATION_RETENTION must not be shorter than CONFIRMATION_VALIDITY")
	}
	if c.ExpiryPeriod <= 0 || c.PurgePeriod <= 0 {
		return fmt.Errorf("CONFIRMATION_EXPIRY_PERIOD and CONFIRMATION_PURGE_PERIOD must be positive")
	}
	// Guard: prevent the classic "REDIS_ADDR=localhost:6379 OTHER=..." parsing issue
	if strings.Contains(c.RedisAddr, " ") {
		return fmt.Errorf("bad REDIS_ADDR (contains spaces): %q", c.RedisAddr)
	}
	return nil
}
