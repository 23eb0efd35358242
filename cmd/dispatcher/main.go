package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/app"
	"checkin_messenger/internal/bootstrap"
	"checkin_messenger/internal/shared"
)

func main() {
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	observability.Serve(cfg.MetricsAddr)

	log.Info().
		Str("tz", a.Loc.String()).
		Dur("tick", cfg.SchedulerTick).
		Int("workers", cfg.Workers).
		Msg("dispatcher starting")

	s := &app.Scheduler{Dispatch: a.Dispatch, Messages: a.Messages, Loc: a.Loc, Interval: cfg.SchedulerTick}
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scheduler stopped")
		return
	}
	log.Info().Msg("dispatcher stopped")
}
