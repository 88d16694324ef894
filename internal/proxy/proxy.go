// Package proxy dispatches plain HTTP requests to containers by hostname.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockside/dockside/internal/metrics"
	"github.com/dockside/dockside/internal/models"
)

const dialTimeout = 5 * time.Second

// RouteTable is the read side of the routing table.
type RouteTable interface {
	Lookup(name string) (models.Endpoint, bool)
	Snapshot() []models.Endpoint
}

// errorBody is the envelope every proxy-generated error response carries.
// Upstream responses pass through untouched, errors of the proxy itself are
// always JSON.
type errorBody struct {
	Error           string   `json:"error"`
	Target          string   `json:"target,omitempty"`
	AvailableRoutes []string `json:"available_routes,omitempty"`
}

// dispatch carries per-request routing state from the handler into the
// reverse proxy callbacks.
type dispatch struct {
	target *url.URL
	failed bool
}

type dispatchKey struct{}

// Server terminates <name>.localhost requests and forwards them to the
// container the routing table maps the name to. Every exchange, including
// streaming and upgraded ones, is bounded by the configured timeout.
type Server struct {
	table   RouteTable
	timeout time.Duration
	proxy   *httputil.ReverseProxy
	metrics metrics.Metrics
	log     zerolog.Logger
}

func New(table RouteTable, timeout time.Duration, mtr metrics.Metrics, logger zerolog.Logger) *Server {
	s := &Server{
		table:   table,
		timeout: timeout,
		metrics: mtr,
		log:     logger.With().Str("component", "proxy").Logger(),
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// handle() always installs the dispatch before calling the proxy
			d := pr.In.Context().Value(dispatchKey{}).(*dispatch)
			pr.SetURL(d.target)
			pr.SetXForwarded()
		},
		Transport:     newTransport(),
		FlushInterval: -1,
		ErrorHandler:  s.upstreamError,
		ErrorLog:      stdlog.New(s.log, "", 0),
	}
	return s
}

func newTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: time.Second,
		// containers speak plain http/1.1; keeping h2 off lets Upgrade
		// requests pass through
		ForceAttemptHTTP2: false,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		s.metrics.Duration("dispatch.duration", time.Since(start))
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				// mid-stream upstream failure: the response has already
				// started, aborting the connection is all that is left
				panic(http.ErrAbortHandler)
			}
			s.metrics.Increment("dispatch.panic")
			s.log.Error().Msgf("panic serving %s %s: %v\n%s", r.Method, r.Host, rec, debug.Stack())
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal proxy error"})
		}
	}()
	s.handle(w, r)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		s.metrics.Increment("dispatch.bad_request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "missing Host header"})
		return
	}

	name := containerName(host)
	endpoint, ok := s.table.Lookup(name)
	if !ok {
		s.metrics.Increment("dispatch.no_route")
		s.log.Warn().Msgf("no route for host %q", host)
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:           fmt.Sprintf("no route for host %q", host),
			AvailableRoutes: s.routeNames(),
		})
		return
	}

	d := &dispatch{target: &url.URL{Scheme: "http", Host: endpoint.HostPort()}}
	ctx := context.WithValue(r.Context(), dispatchKey{}, d)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.log.Debug().Msgf("%s %s%s -> %s", r.Method, host, r.URL.Path, d.target)
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
	if !d.failed {
		s.metrics.Increment("dispatch.ok")
	}
}

func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	d := r.Context().Value(dispatchKey{}).(*dispatch)
	d.failed = true
	s.metrics.Increment("dispatch.upstream_error")
	s.log.Error().Err(err).Msgf("upstream %s failed", d.target)
	writeJSON(w, http.StatusBadGateway, errorBody{
		Error:  fmt.Sprintf("upstream request failed: %v", err),
		Target: d.target.String(),
	})
}

func (s *Server) routeNames() []string {
	routes := s.table.Snapshot()
	names := make([]string, 0, len(routes))
	for _, endpoint := range routes {
		names = append(names, endpoint.Hostname())
	}
	return names
}

// containerName extracts the route key from a request host:
// "api.localhost:8080" becomes "api".
func containerName(host string) string {
	if bare, _, err := net.SplitHostPort(host); err == nil {
		host = bare
	}
	return strings.TrimSuffix(host, ".localhost")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
