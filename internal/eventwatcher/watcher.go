// Package eventwatcher keeps a container event subscription alive and turns
// relevant events into reconcile triggers.
package eventwatcher

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockside/dockside/internal/docker"
	"github.com/dockside/dockside/internal/metrics"
)

const (
	// DefaultErrorDelay is how long to wait before resubscribing after a
	// failed subscribe or a broken stream.
	DefaultErrorDelay = 5 * time.Second
	// DefaultEndDelay is how long to wait after the daemon ends a stream
	// cleanly.
	DefaultEndDelay = time.Second
)

// Stream yields container events until it breaks or ends.
type Stream interface {
	Next() (docker.EventMessage, error)
	Close() error
}

// Source opens event streams against the container runtime.
type Source interface {
	Events(ctx context.Context, since time.Time) (Stream, error)
}

// Notifier receives a kick whenever the routing table may be stale.
type Notifier interface {
	Trigger()
}

type state int

const (
	stateDisconnected state = iota
	stateConnecting
	stateSubscribed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Watcher subscribes to the runtime event feed and triggers the notifier on
// container lifecycle changes. It never gives up: any failure is logged,
// waited out and followed by a fresh subscribe. Events carry no payload we
// trust; they only mark the table as possibly stale, and the next
// reconciliation pass re-reads everything.
type Watcher struct {
	source     Source
	sink       Notifier
	errorDelay time.Duration
	endDelay   time.Duration
	metrics    metrics.Metrics
	log        zerolog.Logger

	// only the Run goroutine touches this
	state state
}

// New builds a watcher. Zero delays fall back to the package defaults.
func New(
	source Source,
	sink Notifier,
	errorDelay time.Duration,
	endDelay time.Duration,
	mtr metrics.Metrics,
	logger zerolog.Logger,
) *Watcher {
	if errorDelay == 0 {
		errorDelay = DefaultErrorDelay
	}
	if endDelay == 0 {
		endDelay = DefaultEndDelay
	}
	return &Watcher{
		source:     source,
		sink:       sink,
		errorDelay: errorDelay,
		endDelay:   endDelay,
		metrics:    mtr,
		log:        logger.With().Str("component", "eventwatcher").Logger(),
	}
}

// Run blocks until ctx is canceled, cycling through
// disconnected -> connecting -> subscribed as the feed comes and goes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(stateConnecting)
		stream, err := w.source.Events(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.setState(stateDisconnected)
			w.metrics.Increment("events.subscribe_error")
			w.log.Error().Err(err).Msgf("event subscribe failed, retrying in %s", w.errorDelay)
			if !sleepCtx(ctx, w.errorDelay) {
				return nil
			}
			continue
		}

		w.setState(stateSubscribed)
		w.log.Info().Msg("subscribed to container events")
		// anything that happened while we were not subscribed is invisible
		// to us, so schedule a catch-up pass right away
		w.sink.Trigger()

		delay := w.consume(ctx, stream)
		_ = stream.Close()
		w.setState(stateDisconnected)
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// consume drains the stream until it breaks or ends and reports how long to
// wait before the next subscribe.
func (w *Watcher) consume(ctx context.Context, stream Stream) time.Duration {
	for {
		msg, err := stream.Next()
		if err != nil {
			var malformed *docker.MalformedEventError
			switch {
			case errors.As(err, &malformed):
				// the stream is still usable, drop just this line
				w.metrics.Increment("events.malformed")
				w.log.Warn().Err(err).Msg("skipping malformed event")
				continue
			case errors.Is(err, io.EOF):
				w.log.Info().Msgf("event stream ended, resubscribing in %s", w.endDelay)
				return w.endDelay
			case ctx.Err() != nil:
				return 0
			default:
				w.metrics.Increment("events.stream_error")
				w.log.Error().Err(err).Msgf("event stream broke, resubscribing in %s", w.errorDelay)
				return w.errorDelay
			}
		}

		if !relevant(msg) {
			continue
		}
		w.metrics.Increment("events.trigger")
		w.log.Debug().Msgf("container %q %s, scheduling reconcile", msg.SubjectName(), msg.Action)
		w.sink.Trigger()
	}
}

func (w *Watcher) setState(next state) {
	if w.state == next {
		return
	}
	w.log.Debug().Msgf("watcher %s -> %s", w.state, next)
	w.state = next
}

// relevant reports whether the event can change routing. Only lifecycle
// transitions matter; exec, attach and the like never move a container
// between networks.
func relevant(msg docker.EventMessage) bool {
	if msg.Type != "container" {
		return false
	}
	switch msg.Action {
	case "start", "stop", "die":
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
