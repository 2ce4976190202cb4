// Package runner is the process lifecycle shared by every service's main.
package runner

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// App is a service that starts in the background and stops gracefully.
// Start returns once everything is running; Done reports a fatal runtime error.
type App interface {
	Start(ctx context.Context) error
	Done() <-chan error
	Stop(ctx context.Context) error
}

// Builder constructs the application and returns a cleanup function.
type Builder func() (App, func(), error)

// Run bootstraps, starts, waits for a signal or a crash, then stops within
// stopWait. It returns a process exit code.
func Run(build Builder, sigCh <-chan os.Signal, stopWait time.Duration, lg zerolog.Logger) int {
	app, cleanup, err := build()
	if err != nil {
		lg.Error().Err(err).Msg("bootstrap failed")
		return 1
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		lg.Error().Err(err).Msg("start failed")
		stop(app, stopWait, lg)
		return 1
	}
	lg.Info().Msg("service started")

	code := 0
	select {
	case sig := <-sigCh:
		lg.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-app.Done():
		lg.Error().Err(err).Msg("app crashed")
		code = 1
	}

	if err := stop(app, stopWait, lg); err != nil {
		return 1
	}
	lg.Info().Msg("shutdown complete")
	return code
}

func stop(app App, wait time.Duration, lg zerolog.Logger) error {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), wait)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		lg.Error().Err(err).Msg("graceful stop failed")
		return err
	}
	return nil
}
