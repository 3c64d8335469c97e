// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autoclear/internal/buildinfo"
	"github.com/autobrr/autoclear/internal/config"
	"github.com/autobrr/autoclear/internal/domain"
	"github.com/autobrr/autoclear/internal/downloader"
	"github.com/autobrr/autoclear/internal/metrics"
	"github.com/autobrr/autoclear/internal/services/housekeeping"
	"github.com/autobrr/autoclear/internal/services/notifications"
)

const (
	shutdownTimeout = 30 * time.Second
	flushTimeout    = 15 * time.Second
)

type Application struct {
	cfg      *config.AppConfig
	pool     *downloader.Pool
	notifier *notifications.Service
	metrics  *metrics.Manager
	service  *housekeeping.Service
}

// NewApplication loads the configuration and wires the downloader pool,
// notifier, metrics and housekeeping service.
func NewApplication(flags commonFlags) (*Application, error) {
	cfg, err := config.New(flags.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize configuration")
	}

	if flags.dataDir != "" {
		os.Setenv("AUTOCLEAR__DATA_DIR", flags.dataDir)
		cfg.SetDataDir(flags.dataDir)
	}
	if flags.logPath != "" {
		os.Setenv("AUTOCLEAR__LOG_PATH", flags.logPath)
		cfg.Config.LogPath = flags.logPath
	}

	cfg.ApplyLogConfig()

	snapshot := cfg.Snapshot()

	app := &Application{
		cfg:      cfg,
		pool:     downloader.NewPool(snapshot.Downloaders),
		notifier: notifications.NewService(snapshot.NotificationURLs, log.Logger.With().Str("module", "notifications").Logger()),
		metrics:  metrics.NewManager(),
	}

	app.service = housekeeping.NewService(snapshot, housekeeping.Options{
		Clients:  app.pool,
		Notifier: app.notifier,
		Metrics:  app.metrics,
		LockPath: cfg.GetLockPath(),
	})

	cfg.RegisterReloadListener(app.reload)

	return app, nil
}

func (app *Application) reload(cfg *domain.Config) {
	app.pool.Update(cfg.Downloaders)
	app.notifier.SetURLs(cfg.NotificationURLs)
	app.service.Reload(cfg)
	log.Info().Msg("configuration reloaded")
}

func (app *Application) startNotifier(ctx context.Context) {
	app.notifier.Start(ctx)
}

func (app *Application) flushNotifications() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := app.notifier.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("notifications not delivered before exit")
	}
}

func (app *Application) Close() {
	if err := app.pool.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close downloader pool")
	}
}

func (app *Application) serve(allClearNow bool) error {
	defer app.Close()

	log.Info().Str("version", buildinfo.Version).Msg("Starting autoclear")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.startNotifier(ctx)
	app.service.Start(ctx)

	errorChannel := make(chan error, 1)

	snapshot := app.cfg.Snapshot()
	var metricsServer *metrics.MetricsServer
	if snapshot.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(
			app.metrics,
			snapshot.MetricsHost,
			snapshot.MetricsPort,
			snapshot.MetricsBasicAuthUsers,
			app.service,
		)
		go func() {
			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	if allClearNow {
		app.service.TriggerAllClear()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down", sig.String())
	case err := <-errorChannel:
		if err != nil {
			log.Error().Err(err).Msg("got unexpected error from metrics server")
		}
	}

	app.service.Stop()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("got error during graceful metrics shutdown")
		}
	}

	app.flushNotifications()

	return nil
}
