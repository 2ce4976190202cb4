package bootstrap

import (
	"context"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/logger"
	"github.com/baechuer/event-booking/pkg/platform"
	"github.com/baechuer/event-booking/pkg/runner"
	"github.com/baechuer/event-booking/services/event-service/internal/application/capacity"
	"github.com/baechuer/event-booking/services/event-service/internal/application/event"
	"github.com/baechuer/event-booking/services/event-service/internal/application/schedule"
	ecfg "github.com/baechuer/event-booking/services/event-service/internal/config"
	"github.com/baechuer/event-booking/services/event-service/internal/infrastructure/caching/redis"
	"github.com/baechuer/event-booking/services/event-service/internal/infrastructure/db/postgres"
	"github.com/baechuer/event-booking/services/event-service/internal/infrastructure/memory"
	"github.com/baechuer/event-booking/services/event-service/internal/transport/http/handlers"
	"github.com/baechuer/event-booking/services/event-service/internal/transport/http/router"
)

// NewApp loads configuration and wires the event service.
func NewApp() (runner.App, func(), error) {
	cfg, err := ecfg.Load()
	if err != nil {
		return nil, nil, err
	}
	return Wire(context.Background(), cfg, platform.Options{})
}

// Wire builds the service from cfg. opts can swap the broker for tests.
func Wire(ctx context.Context, cfg *ecfg.Config, opts platform.Options) (runner.App, func(), error) {
	lg := logger.Service(ecfg.ServiceName)
	clock := event.ClockFunc(func() time.Time { return time.Now().UTC() })

	opts.Migrations = append(opts.Migrations, postgres.Schema)
	p, err := platform.New(ctx, cfg.Common, lg, opts)
	if err != nil {
		return nil, nil, err
	}

	var repo event.EventRepo
	switch cfg.StoreDriver {
	case config.DriverMemory:
		lg.Warn().Msg("using in-memory event store; state is lost on restart")
		repo = memory.New(p.Relay)
	default:
		repo = postgres.New(p.UoW)
	}

	var cache event.Cache
	if cfg.RedisURL != "" {
		rc, err := redis.New(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			p.Cleanup()
			return nil, nil, err
		}
		p.Registry.Register("redis", rc)
		p.HTTP.AddCheck("redis", rc.Ping)
		cache = rc
	} else {
		lg.Info().Msg("REDIS_URL not set; event reads are not cached")
	}

	reads := event.New(repo, clock, cache, p.Ops, cfg.CacheTTLDetail)
	seats := capacity.New(repo, clock, p.Ops, reads, ecfg.ServiceName)
	p.Handle(seats.Routes()...)

	if err := p.AddSweep(schedule.NewStartSweep(repo, reads, cfg.SweepBatch), cfg.StartPeriod); err != nil {
		p.Cleanup()
		return nil, nil, err
	}
	if err := p.AddSweep(schedule.NewCompletionSweep(repo, reads, ecfg.ServiceName, cfg.SweepBatch), cfg.CompletionPeriod); err != nil {
		p.Cleanup()
		return nil, nil, err
	}

	router.Mount(p.HTTP.Router(), handlers.NewEventsHandler(reads), router.RateLimit{
		Enabled: cfg.RLEnabled,
		Limit:   cfg.RLLimit,
		Window:  cfg.RLWindow,
	})

	return p, p.Cleanup, nil
}
