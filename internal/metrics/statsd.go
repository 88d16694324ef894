package metrics

import (
	"time"

	statsd "github.com/smira/go-statsd"
)

// New returns a statsd-backed Metrics when addr is set and a no-op sink
// otherwise, so callers never have to branch on whether metrics are enabled.
func New(addr string) Metrics {
	if addr == "" {
		return Noop{}
	}
	return NewStatsd(addr)
}

type Statsd struct {
	client *statsd.Client
}

func NewStatsd(addr string) *Statsd {
	clnt := statsd.NewClient(
		addr,
		statsd.MetricPrefix("dockside."),
	)
	return &Statsd{
		client: clnt,
	}
}

func (s *Statsd) Increment(metric string) {
	s.client.Incr(metric, 1)
}

func (s *Statsd) Duration(metric string, duration time.Duration) {
	s.client.PrecisionTiming(metric, duration)
}

func (s *Statsd) Gauge(metric string, value int) {
	s.client.Gauge(metric, int64(value))
}

type Noop struct{}

func (Noop) Increment(string) {}

func (Noop) Duration(string, time.Duration) {}

func (Noop) Gauge(string, int) {}
