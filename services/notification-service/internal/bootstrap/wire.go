package bootstrap

import (
	"context"
	"fmt"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/logger"
	"github.com/baechuer/event-booking/pkg/platform"
	"github.com/baechuer/event-booking/pkg/runner"
	"github.com/baechuer/event-booking/services/notification-service/internal/application/notify"
	ncfg "github.com/baechuer/event-booking/services/notification-service/internal/config"
	"github.com/baechuer/event-booking/services/notification-service/internal/infrastructure/email"
	"github.com/baechuer/event-booking/services/notification-service/internal/infrastructure/idempotency"
	"github.com/baechuer/event-booking/services/notification-service/internal/infrastructure/memory"
	"github.com/baechuer/event-booking/services/notification-service/internal/infrastructure/postgres"
	"github.com/baechuer/event-booking/services/notification-service/internal/infrastructure/web"
)

// NewApp loads configuration and wires the notification service.
func NewApp() (runner.App, func(), error) {
	cfg, err := ncfg.Load()
	if err != nil {
		return nil, nil, err
	}
	return Wire(context.Background(), cfg, platform.Options{})
}

// Wire builds the service from cfg. opts can swap the broker for tests.
func Wire(ctx context.Context, cfg *ncfg.Config, opts platform.Options) (runner.App, func(), error) {
	lg := logger.Service(ncfg.ServiceName)

	opts.Migrations = append(opts.Migrations, postgres.Schema)
	p, err := platform.New(ctx, cfg.Common, lg, opts)
	if err != nil {
		return nil, nil, err
	}

	var repo notify.ConfirmationRepo
	switch cfg.StoreDriver {
	case config.DriverMemory:
		lg.Warn().Msg("using in-memory confirmation store; tokens are lost on restart")
		repo = memory.New(p.Relay)
	default:
		repo = postgres.New(p.UoW)
	}

	// sender: fake or smtp
	var sender notify.Sender
	switch cfg.EmailSender {
	case "smtp":
		sender = email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.SMTPTimeout,
			Insecure: cfg.SMTPInsecure,
		}, lg)
		lg.Info().Str("host", cfg.SMTPHost).Int("port", cfg.SMTPPort).Msg("email sender: smtp")
	default:
		sender = email.NewFakeSender(lg)
		lg.Info().Msg("email sender: fake")
	}

	sender = email.NewBreakerSender(sender, email.BreakerConfig{
		MaxFailures:      cfg.BreakerFailures,
		ResetTimeout:     cfg.BreakerReset,
		HalfOpenMaxCalls: cfg.BreakerHalfOpen,
	}, lg)

	var idem notify.IdempotencyStore
	switch {
	case cfg.RedisEnabled:
		rs := idempotency.NewRedisStore(idempotency.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), lg)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close(ctx)
			p.Cleanup()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		p.Registry.Register("redis", rs)
		p.HTTP.AddCheck("redis", rs.Ping)
		idem = rs
		lg.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("email idempotency: redis")
	case cfg.StoreDriver == config.DriverMemory:
		idem = idempotency.NewMemoryStore()
		lg.Info().Msg("email idempotency: in-memory")
	default:
		lg.Warn().Msg("REDIS_ENABLED=false; replayed messages may resend emails")
	}

	svc := notify.NewService(notify.Config{
		Producer:       ncfg.ServiceName,
		PublicBaseURL:  cfg.EmailPublicBaseURL,
		Validity:       cfg.ConfirmationValidity,
		IdempotencyTTL: cfg.EmailIdempotencyTTL,
	}, repo, sender, idem, p.Ops, lg)
	p.Handle(svc.Routes()...)

	if err := p.AddSweep(notify.NewExpirySweep(repo, ncfg.ServiceName, cfg.ExpiryBatch), cfg.ExpiryPeriod); err != nil {
		p.Cleanup()
		return nil, nil, err
	}
	if err := p.AddSweep(notify.NewPurgeSweep(repo, cfg.ConfirmationRetention), cfg.PurgePeriod); err != nil {
		p.Cleanup()
		return nil, nil, err
	}

	web.Mount(p.HTTP.Router(), web.NewHandler(svc, lg), web.RateLimitConfig{
		Enabled:     cfg.RLEnabled,
		IPLimit:     cfg.RLIPLimit,
		IPWindow:    cfg.RLIPWindow,
		TokenLimit:  cfg.RLTokenLimit,
		TokenWindow: cfg.RLTokenWindow,
	})

	return p, p.Cleanup, nil
}
