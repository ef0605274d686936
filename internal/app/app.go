package app

import (
	"context"
	"fmt"
	stdhttp "net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat-server/internal/auth"
	"github.com/vovakirdan/relaychat-server/internal/config"
	"github.com/vovakirdan/relaychat-server/internal/core"
	applog "github.com/vovakirdan/relaychat-server/internal/log"
	"github.com/vovakirdan/relaychat-server/internal/metrics"
	"github.com/vovakirdan/relaychat-server/internal/store"
	"github.com/vovakirdan/relaychat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/relaychat-server/internal/transport/http"
	"github.com/vovakirdan/relaychat-server/internal/transport/tcp"
)

// App wires together the delivery core, storage, and transports.
// Everything is constructed once here and injected; there are no
// process-wide registries.
type App struct {
	cfg        config.Config
	store      store.Store
	chatServer *tcp.Server
	httpServer *stdhttp.Server
	monitor    *core.Monitor
	log        *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	authService := auth.NewService(st)

	dir := core.NewDirectory(applog.Component(logger, "directory"))
	mail := core.NewMailboxes(st, applog.Component(logger, "mailbox"))
	router := core.NewRouter(dir, mail, st, st, m, applog.Component(logger, "router"))
	broadcaster := core.NewStatusBroadcaster(dir, st, applog.Component(logger, "presence"))
	dir.OnStatusChange(broadcaster.UserStatusChanged)
	monitor := core.NewMonitor(router, cfg.HeartbeatInterval, cfg.PresenceTimeout, applog.Component(logger, "presence"))

	sessionOpts := tcp.Options{
		AuthTimeout: cfg.AuthTimeout,
		SendBuffer:  cfg.SendBuffer,
	}

	chatServer := tcp.NewServer(cfg.ListenAddr, router, authService, sessionOpts, m, logger)

	api := transporthttp.NewAPIHandlers(authService, st, router, logger)
	ws := transporthttp.NewWSHandler(router, authService, sessionOpts, m, logger)
	httpServer := transporthttp.NewServer(&cfg, api, ws, registry, logger)

	return &App{
		cfg:        cfg,
		store:      st,
		chatServer: chatServer,
		httpServer: httpServer,
		monitor:    monitor,
		log:        logger,
	}, nil
}

// Run starts the presence monitor and both listeners and blocks until
// context cancellation or a fatal listener error.
func (a *App) Run(ctx context.Context) error {
	go a.monitor.Run(ctx)

	serverErr := make(chan error, 2)

	go func() {
		serverErr <- a.chatServer.Run(ctx)
	}()

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down")
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("http shutdown")
		}
		err := <-serverErr
		a.cleanup()
		return err
	}
}

// cleanup closes the database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
