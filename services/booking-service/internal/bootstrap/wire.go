package bootstrap

import (
	"context"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/logger"
	"github.com/baechuer/event-booking/pkg/platform"
	"github.com/baechuer/event-booking/pkg/runner"
	"github.com/baechuer/event-booking/services/booking-service/internal/application/lifecycle"
	bcfg "github.com/baechuer/event-booking/services/booking-service/internal/config"
	"github.com/baechuer/event-booking/services/booking-service/internal/infrastructure/eventclient"
	"github.com/baechuer/event-booking/services/booking-service/internal/infrastructure/memory"
	"github.com/baechuer/event-booking/services/booking-service/internal/infrastructure/postgres"
)

// NewApp loads configuration and wires the booking service.
func NewApp() (runner.App, func(), error) {
	cfg, err := bcfg.Load()
	if err != nil {
		return nil, nil, err
	}
	return Wire(context.Background(), cfg, platform.Options{})
}

// Wire builds the service from cfg. opts can swap the broker for tests.
func Wire(ctx context.Context, cfg *bcfg.Config, opts platform.Options) (runner.App, func(), error) {
	lg := logger.Service(bcfg.ServiceName)

	opts.Migrations = append(opts.Migrations, postgres.Schema)
	p, err := platform.New(ctx, cfg.Common, lg, opts)
	if err != nil {
		return nil, nil, err
	}

	var repo lifecycle.BookingRepo
	switch cfg.StoreDriver {
	case config.DriverMemory:
		lg.Warn().Msg("using in-memory booking store; state is lost on restart")
		repo = memory.New(p.Relay)
	default:
		repo = postgres.New(p.UoW)
	}

	svc := lifecycle.NewService(repo, p.Relay, p.Ops, bcfg.ServiceName)
	p.Handle(svc.Routes()...)

	if cfg.BackstopEnabled {
		events := eventclient.New(cfg.EventServiceURL, cfg.EventHTTPTimeout, lg)
		backstop := lifecycle.NewCompletionBackstop(svc, events, p.Ops, cfg.BackstopHorizon, cfg.BackstopBatch)
		if err := p.AddSweep(backstop, cfg.BackstopPeriod); err != nil {
			p.Cleanup()
			return nil, nil, err
		}
	}

	return p, p.Cleanup, nil
}
