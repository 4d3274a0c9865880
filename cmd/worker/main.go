package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"brandvault/initialize"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initialize.Build(ctx, *configPath)
	if err != nil {
		logger := initialize.NewLogger()
		logger.Fatal().Err(err).Msg("startup failed")
	}

	if err := app.Engine.Start(ctx); err != nil {
		app.Log.Fatal().Err(err).Msg("queue start failed")
	}

	go func() {
		if err := app.Sync.Run(ctx); err != nil && ctx.Err() == nil {
			app.Log.Error().Err(err).Msg("sync loop stopped")
		}
	}()

	app.Log.Info().Str("provider", app.Cfg.Source.Provider).Msg("worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	app.Log.Info().Msg("shutting down")
	cancel()
	app.Engine.Stop()
}
