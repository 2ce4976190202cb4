package email

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type BreakerConfig struct {
	// MaxFailures consecutive failed sends open the circuit.
	MaxFailures int
	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls sends are let through while probing.
	HalfOpenMaxCalls int
}

// BreakerSender stops calling a provider that keeps failing. While the
// circuit is open sends fail fast with a temporary error. Permanent errors
// (bad address, rejected auth) say nothing about provider health and do not
// count as failures.
type BreakerSender struct {
	next notify.Sender
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerSender(next notify.Sender, cfg BreakerConfig, lg zerolog.Logger) *BreakerSender {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 2
	}
	lg = lg.With().Str("component", "email_breaker").Logger()

	maxFailures := uint32(cfg.MaxFailures)
	return &BreakerSender{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "email",
			MaxRequests: uint32(cfg.HalfOpenMaxCalls),
			Timeout:     cfg.ResetTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || fault.IsPermanent(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn().Str("from", from.String()).Str("to", to.String()).Msg("email circuit state changed")
			},
		}),
	}
}

func (s *BreakerSender) Send(ctx context.Context, m notify.Mail) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return TemporaryError{msg: "email provider circuit open: " + err.Error()}
	}
	return err
}

// State reports "closed", "half-open" or "open".
func (s *BreakerSender) State() string {
	return s.cb.State().String()
}
