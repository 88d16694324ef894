package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dockside/dockside/internal/config"
	"github.com/dockside/dockside/internal/docker"
	"github.com/dockside/dockside/internal/eventwatcher"
	"github.com/dockside/dockside/internal/metrics"
	"github.com/dockside/dockside/internal/mgmt"
	"github.com/dockside/dockside/internal/proxy"
	"github.com/dockside/dockside/internal/reconciler"
	"github.com/dockside/dockside/internal/routetable"
	"github.com/dockside/dockside/internal/scheduler"
)

// minPassInterval keeps event bursts from rebuilding the table back to back.
const minPassInterval = 500 * time.Millisecond

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// eventSource adapts the docker client to the watcher's stream interface.
type eventSource struct {
	client *docker.Client
}

func (s eventSource) Events(ctx context.Context, since time.Time) (eventwatcher.Stream, error) {
	return s.client.Events(ctx, since)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(cfg.LogLevel))

	mtr := metrics.New(cfg.StatsdAddr)

	client, err := docker.NewClient(cfg.DockerHost, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create docker client")
	}

	// no point starting to serve before the daemon answers: every route
	// comes from it
	err = retry.Do(
		func() error {
			return client.Ping(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(attempt uint, err error) {
			log.Warn().Err(err).Msgf("docker daemon not answering, attempt: %d", attempt)
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msgf("docker daemon unreachable at %s", cfg.DockerHost)
	}

	table := routetable.New()
	rec := reconciler.New(client, table, log.Logger)

	// serving with an empty table would 502 every request, so the first
	// build happens before the listeners open
	if _, err := rec.Reconcile(ctx); err != nil {
		log.Fatal().Err(err).Msg("initial reconciliation failed")
	}
	log.Info().Msgf("initial reconciliation done, %d routes", table.Len())

	sched := scheduler.New(rec, cfg.ResyncInterval, minPassInterval, mtr, log.Logger)
	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("scheduler stopped")
		}
	}()

	watcher := eventwatcher.New(
		eventSource{client: client},
		sched,
		eventwatcher.DefaultErrorDelay,
		eventwatcher.DefaultEndDelay,
		mtr,
		log.Logger,
	)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("event watcher stopped")
		}
	}()

	proxySrv := http.Server{
		Handler: proxy.New(table, cfg.ProxyTimeout, mtr, log.Logger),
		Addr:    cfg.ProxyAddr(),
	}
	go func() {
		log.Info().Msgf("proxy listening on %s", proxySrv.Addr)
		err := proxySrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start proxy server")
		}
	}()

	mgmtSrv := http.Server{
		Handler: mgmt.New(table, log.Logger).Handler(),
		Addr:    cfg.ManagementAddr(),
	}
	go func() {
		log.Info().Msgf("management api listening on %s", mgmtSrv.Addr)
		err := mgmtSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start management server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	_ = proxySrv.Close()
	_ = mgmtSrv.Close()
}
