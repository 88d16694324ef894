// Package scheduler serializes reconciliation passes behind a single
// goroutine.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dockside/dockside/internal/metrics"
	"github.com/dockside/dockside/internal/reconciler"
)

// Reconciler runs one full table rebuild.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconciler.Report, error)
}

// Scheduler owns the only goroutine that calls Reconcile, so passes never
// overlap. Triggers arriving while a pass runs coalesce into at most one
// follow-up pass, and a rate limiter keeps event bursts from producing
// back-to-back rebuilds. An optional resync ticker rebuilds the table even
// when no events arrive, covering anything the feed missed.
type Scheduler struct {
	rec     Reconciler
	kick    chan struct{}
	limiter *rate.Limiter
	resync  time.Duration
	metrics metrics.Metrics
	log     zerolog.Logger
}

// New builds a scheduler. resync <= 0 disables periodic passes;
// minPassInterval <= 0 disables rate limiting.
func New(
	rec Reconciler,
	resync time.Duration,
	minPassInterval time.Duration,
	mtr metrics.Metrics,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		rec:     rec,
		kick:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Every(minPassInterval), 1),
		resync:  resync,
		metrics: mtr,
		log:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Trigger requests a pass. Non-blocking: while one trigger is already
// pending, further ones are dropped. The next pass re-reads full daemon
// state, so a burst of events needs only one follow-up rebuild.
func (s *Scheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is canceled. Pass failures are logged and counted,
// never fatal: the previous table keeps serving.
func (s *Scheduler) Run(ctx context.Context) error {
	var resyncC <-chan time.Time
	if s.resync > 0 {
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()
		resyncC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.kick:
		case <-resyncC:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := s.pass(ctx); err != nil {
			return err
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) error {
	passID, err := uuid.GenerateUUID()
	if err != nil {
		return fmt.Errorf("failed to generate pass id, probably need restart: %w", err)
	}

	start := time.Now()
	report, err := s.rec.Reconcile(ctx)
	duration := time.Since(start)
	s.metrics.Duration("reconcile.duration", duration)

	if err != nil {
		s.metrics.Increment("reconcile.error")
		s.log.Error().Err(err).Msgf("pass %s failed, keeping previous routes", passID)
		return nil
	}

	s.metrics.Increment("reconcile.pass")
	s.metrics.Gauge("routes.active", report.Routes)
	for range report.Failures {
		s.metrics.Increment("reconcile.route_failure")
	}
	s.log.Info().Msgf(
		"pass %s installed %d routes (%d skipped) in %d ms",
		passID, report.Routes, len(report.Failures), duration.Milliseconds(),
	)
	return nil
}
