// Package scheduler runs periodic sweeps: time-driven batch jobs that do not
// consume messages.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baechuer/event-booking/pkg/metrics"
	"github.com/rs/zerolog"
)

// Sweep is one periodic job. Run returns the number of rows it changed.
type Sweep interface {
	Name() string
	Run(ctx context.Context, now time.Time) (int, error)
}

// SweepFunc adapts a function to Sweep.
type SweepFunc struct {
	SweepName string
	Fn        func(ctx context.Context, now time.Time) (int, error)
}

func (s SweepFunc) Name() string { return s.SweepName }

func (s SweepFunc) Run(ctx context.Context, now time.Time) (int, error) { return s.Fn(ctx, now) }

type entry struct {
	sweep   Sweep
	period  time.Duration
	timeout time.Duration
}

// Scheduler runs each sweep once at start and then every period, each on its
// own goroutine. A failed run is logged and counted; the next tick tries again.
type Scheduler struct {
	lg  zerolog.Logger
	now func() time.Time

	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(lg zerolog.Logger) *Scheduler {
	return &Scheduler{
		lg:  lg.With().Str("component", "scheduler").Logger(),
		now: time.Now,
	}
}

// WithClock replaces the wall clock passed to sweeps.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Add registers sweep. A zero timeout bounds each run by its period.
func (s *Scheduler) Add(sweep Sweep, period, timeout time.Duration) error {
	if period <= 0 {
		return errors.New("scheduler: period must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler: already started")
	}
	if timeout <= 0 {
		timeout = period
	}
	s.entries = append(s.entries, entry{sweep: sweep, period: period, timeout: timeout})
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	s.lg.Info().Int("sweeps", len(s.entries)).Msg("scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()
	lg := s.lg.With().Str("sweep", e.sweep.Name()).Dur("period", e.period).Logger()

	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	s.RunOnce(ctx, e.sweep, e.timeout, lg)
	for {
		select {
		case <-ctx.Done():
			lg.Info().Msg("stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx, e.sweep, e.timeout, lg)
		}
	}
}

// RunOnce executes sweep a single time with the scheduler's clock.
func (s *Scheduler) RunOnce(ctx context.Context, sweep Sweep, timeout time.Duration, lg zerolog.Logger) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	n, err := sweep.Run(lg.WithContext(ctx), s.now())
	metrics.RecordSweep(sweep.Name(), n, err)

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return
		}
		lg.Warn().Err(err).Msg("sweep failed; will run again next period")
		return
	}
	if n > 0 {
		lg.Info().Int("affected", n).Dur("took", time.Since(start)).Msg("sweep done")
	}
}

// Close stops every loop and waits for running sweeps to return.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
