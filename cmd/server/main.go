package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/vovakirdan/relaychat-server/internal/app"
	"github.com/vovakirdan/relaychat-server/internal/config"
	applog "github.com/vovakirdan/relaychat-server/internal/log"
)

func main() {
	var (
		configPath string
		overrides  config.Config
	)

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&overrides.ListenAddr, "addr", "", "chat listen address")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.DatabasePath, "db", "", "path to sqlite database")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.DurationVar(&overrides.PresenceTimeout, "presence-timeout", 0, "idle time before a user is marked offline")
	flag.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flag.Parse()

	bootstrapLogger := applog.New("info")

	cfg, configPath, err := config.Load(bootstrapLogger, configPath)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Str("path", configPath).Msg("load config")
	}
	cfg.UpdateFrom(overrides)

	logger := applog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init application")
	}

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("http_addr", cfg.HTTPAddr).
		Msg("starting relaychat server")
	if err := application.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
	logger.Info().Msg("server stopped")
}
