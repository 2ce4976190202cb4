// Package platform assembles the runtime every service shares: broker
// publisher and subscriber, dead-letter publisher, consumer engine, database
// pool with its unit of work, sweep scheduler and the ops HTTP server. A
// service adds its routes, sweeps and HTTP handlers and hands the result to
// runner.Run.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/httpserver"
	"github.com/baechuer/event-booking/pkg/messaging"
	"github.com/baechuer/event-booking/pkg/postgres"
	"github.com/baechuer/event-booking/pkg/rabbitmq"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/baechuer/event-booking/pkg/scheduler"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Options replaces the broker side in tests and lists the service's DDL.
type Options struct {
	Source     messaging.Source
	Publisher  messaging.Publisher
	Migrations []string
	// SweepTimeout bounds one sweep run. Zero means the sweep's period.
	SweepTimeout time.Duration
}

type Platform struct {
	Config config.Common
	Log    zerolog.Logger

	Registry  *messaging.Registry
	Publisher messaging.Publisher
	Relay     messaging.Relay
	// Ops bounds and retries single store calls and lookups.
	Ops       retry.Policy
	Consumer  *messaging.Consumer
	Scheduler *scheduler.Scheduler
	HTTP      *httpserver.Server

	// Pool and UoW are nil with the memory store driver.
	Pool *pgxpool.Pool
	UoW  *postgres.UnitOfWork

	sweepTimeout time.Duration
	routes       []messaging.Route
	done         chan error
}

func New(ctx context.Context, cfg config.Common, lg zerolog.Logger, opts Options) (*Platform, error) {
	p := &Platform{
		Config:       cfg,
		Log:          lg,
		Registry:     messaging.NewRegistry(),
		sweepTimeout: opts.SweepTimeout,
		done:         make(chan error, 4),
	}
	p.Ops = retry.New(cfg.Service+".ops", cfg.RetryMaxAttempts, cfg.RetryBaseBackoff, cfg.RetryJitter, cfg.OpTimeout)

	p.Publisher = opts.Publisher
	if p.Publisher == nil {
		pub := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:       cfg.RabbitURL,
			Exchange:  cfg.RabbitExchange,
			Mandatory: true,
		}, lg)
		p.Registry.Register("rabbitmq_publisher", pub)
		p.Publisher = pub
	}
	p.Relay = messaging.Relay{Pub: p.Publisher, Policy: p.Ops.Named(cfg.Service + ".publish"), Logger: lg}

	source := opts.Source
	if source == nil {
		sub := rabbitmq.NewSubscriber(rabbitmq.SubscriberConfig{
			URL:      cfg.RabbitURL,
			Exchange: cfg.RabbitExchange,
			Service:  cfg.Service,
		}, lg)
		p.Registry.Register("rabbitmq_subscriber", sub)
		source = sub
	}

	p.Consumer = messaging.NewConsumer(messaging.ConsumerConfig{
		Service:    cfg.Service,
		Source:     source,
		DeadLetter: messaging.NewDeadLetterPublisher(p.Publisher, cfg.Service, lg),
		Policy: retry.New("record", cfg.RetryMaxAttempts, cfg.RetryBaseBackoff, cfg.RetryJitter, 0).
			WithRetryable(fault.TransientOrConflict),
		Registry: p.Registry,
		Logger:   lg,
	})

	p.Scheduler = scheduler.New(lg)
	p.HTTP = httpserver.New(httpserver.Config{Addr: cfg.OpsAddr, Service: cfg.Service}, lg)

	if cfg.StoreDriver == config.DriverPostgres {
		pool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			p.Cleanup()
			return nil, err
		}
		p.Pool = pool

		ddl := opts.Migrations
		if cfg.OutboxEnabled {
			ddl = append(append([]string{}, ddl...), postgres.OutboxSchema)
		}
		if err := postgres.Migrate(ctx, pool, ddl...); err != nil {
			p.Cleanup()
			return nil, err
		}

		p.UoW = postgres.NewUnitOfWork(pool, p.Relay, cfg.OutboxEnabled, lg)
		p.HTTP.AddCheck("postgres", func(ctx context.Context) error { return pool.Ping(ctx) })

		if cfg.OutboxEnabled {
			if err := p.AddSweep(postgres.NewOutboxWorker(pool, p.Publisher, lg), cfg.OutboxPollInterval); err != nil {
				p.Cleanup()
				return nil, err
			}
			if err := p.AddSweep(postgres.NewOutboxPurge(pool, cfg.OutboxRetention), time.Hour); err != nil {
				p.Cleanup()
				return nil, err
			}
		}
	}

	lg.Info().
		Str("store", cfg.StoreDriver).
		Bool("outbox", cfg.OutboxEnabled).
		Str("exchange", cfg.RabbitExchange).
		Int("concurrency", cfg.Concurrency).
		Msg("platform ready")
	return p, nil
}

// Handle queues subscriptions; they start with Start.
func (p *Platform) Handle(routes ...messaging.Route) {
	p.routes = append(p.routes, routes...)
}

func (p *Platform) AddSweep(s scheduler.Sweep, period time.Duration) error {
	if err := p.Scheduler.Add(s, period, p.sweepTimeout); err != nil {
		return fmt.Errorf("sweep %s: %w", s.Name(), err)
	}
	return nil
}

// Start subscribes every route, then starts the sweeps and the HTTP server.
// Components register for shutdown in start order, so Stop tears them down
// newest first and the broker connections outlive the subscriptions.
func (p *Platform) Start(ctx context.Context) error {
	for _, r := range p.routes {
		topic := r.Kind.Topic()
		if topic == "" {
			return fmt.Errorf("route for unknown kind %q", r.Kind)
		}
		if _, err := p.Consumer.Subscribe(topic, p.Config.Concurrency, r.Handler); err != nil {
			return err
		}
	}
	go func() {
		for err := range p.Consumer.Errors() {
			p.fail(err)
		}
	}()

	p.Scheduler.Start(ctx)
	p.Registry.Register("scheduler", p.Scheduler)

	p.Registry.Register("http", p.HTTP)
	go func() {
		if err := p.HTTP.Start(); err != nil {
			p.fail(fmt.Errorf("http server: %w", err))
		}
	}()
	return nil
}

func (p *Platform) fail(err error) {
	select {
	case p.done <- err:
	default:
	}
}

func (p *Platform) Done() <-chan error { return p.done }

// Stop closes everything registered, newest first.
func (p *Platform) Stop(ctx context.Context) error {
	err := p.Registry.Shutdown(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		p.Log.Warn().Err(err).Msg("shutdown finished with errors")
	}
	return err
}

// Cleanup releases the database pool. Call it after Stop.
func (p *Platform) Cleanup() {
	if p.Pool != nil {
		p.Pool.Close()
		p.Pool = nil
	}
}
