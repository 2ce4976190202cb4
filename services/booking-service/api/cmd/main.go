package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/event-booking/pkg/config"
	"github.com/baechuer/event-booking/pkg/logger"
	"github.com/baechuer/event-booking/pkg/runner"
	"github.com/baechuer/event-booking/services/booking-service/internal/bootstrap"
)

func main() {
	logger.Init()
	lg := logger.Service("booking-service")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	code := runner.Run(bootstrap.NewApp, sigCh, config.Duration("SHUTDOWN_WAIT", 10*time.Second), lg)
	os.Exit(code)
}
