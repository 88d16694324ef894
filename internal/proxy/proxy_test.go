package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockside/dockside/internal/models"
	"github.com/dockside/dockside/internal/routetable"
)

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int)}
}

func (m *recordingMetrics) Increment(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *recordingMetrics) Duration(string, time.Duration) {}
func (m *recordingMetrics) Gauge(string, int)              {}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func tableWith(t *testing.T, entries ...models.Endpoint) *routetable.Table {
	t.Helper()
	byName := make(map[string]models.Endpoint, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	table := routetable.New()
	table.Replace(byName)
	return table
}

func endpointFor(t *testing.T, name, rawURL string) models.Endpoint {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return models.Endpoint{Name: name, Address: host, Port: port}
}

func proxyGet(t *testing.T, proxyURL, hostHeader, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, proxyURL+path, nil)
	require.NoError(t, err)
	req.Host = hostHeader
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestDispatchForwardsAndRewritesHost(t *testing.T) {
	var (
		gotHost   string
		gotXFHost string
		gotMethod string
		gotPath   string
		gotQuery  string
		gotBody   []byte
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotXFHost = r.Header.Get("X-Forwarded-Host")
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "created")
	}))
	defer upstream.Close()

	api := endpointFor(t, "api", upstream.URL)
	mtr := newRecordingMetrics()
	front := httptest.NewServer(New(tableWith(t, api), 5*time.Second, mtr, zerolog.Nop()))
	defer front.Close()

	req, err := http.NewRequest(http.MethodPost, front.URL+"/things?x=1", strings.NewReader("hello"))
	require.NoError(t, err)
	req.Host = "api.localhost"
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", string(body))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	assert.Equal(t, api.HostPort(), gotHost, "host header must name the target, not the route")
	assert.Equal(t, "api.localhost", gotXFHost)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/things", gotPath)
	assert.Equal(t, "x=1", gotQuery)
	assert.Equal(t, "hello", string(gotBody))
	assert.Equal(t, 1, mtr.count("dispatch.ok"))
}

func TestHostPortIsIgnoredForRouting(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer upstream.Close()

	front := httptest.NewServer(New(
		tableWith(t, endpointFor(t, "api", upstream.URL)),
		5*time.Second, newRecordingMetrics(), zerolog.Nop(),
	))
	defer front.Close()

	resp := proxyGet(t, front.URL, "api.localhost:8080", "/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownHostListsAvailableRoutes(t *testing.T) {
	api := models.Endpoint{Name: "api", Address: "172.17.0.2", Port: "80"}
	db := models.Endpoint{Name: "db", Address: "172.17.0.3", Port: "5432"}
	mtr := newRecordingMetrics()
	s := New(tableWith(t, api, db), time.Second, mtr, zerolog.Nop())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://ghost.localhost/", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, `"ghost.localhost"`)
	assert.Equal(t, []string{"api.localhost", "db.localhost"}, body.AvailableRoutes)
	assert.Equal(t, 1, mtr.count("dispatch.no_route"))
}

func TestEmptyTableOmitsAvailableRoutes(t *testing.T) {
	s := New(routetable.New(), time.Second, newRecordingMetrics(), zerolog.Nop())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://ghost.localhost/", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "error")
	assert.NotContains(t, raw, "available_routes")
}

func TestMissingHostReturnsBadRequest(t *testing.T) {
	mtr := newRecordingMetrics()
	s := New(routetable.New(), time.Second, mtr, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = ""
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing Host header", body.Error)
	assert.Equal(t, 1, mtr.count("dispatch.bad_request"))
}

func TestUpstreamUnreachableReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead := endpointFor(t, "api", upstream.URL)
	upstream.Close() // nothing listens on that port anymore

	mtr := newRecordingMetrics()
	front := httptest.NewServer(New(tableWith(t, dead), 5*time.Second, mtr, zerolog.Nop()))
	defer front.Close()

	resp := proxyGet(t, front.URL, "api.localhost", "/")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "upstream request failed")
	assert.Equal(t, dead.TargetURL(), body.Target)
	assert.Empty(t, body.AvailableRoutes)
	assert.Equal(t, 1, mtr.count("dispatch.upstream_error"))
	assert.Equal(t, 0, mtr.count("dispatch.ok"))
}

func TestSlowUpstreamIsCutOffByTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()

	front := httptest.NewServer(New(
		tableWith(t, endpointFor(t, "slow", upstream.URL)),
		50*time.Millisecond, newRecordingMetrics(), zerolog.Nop(),
	))
	defer front.Close()

	start := time.Now()
	resp := proxyGet(t, front.URL, "slow.localhost", "/")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStreamingResponseReachesClientBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: first\n\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: second\n\n")
	}))
	defer upstream.Close()

	front := httptest.NewServer(New(
		tableWith(t, endpointFor(t, "events", upstream.URL)),
		5*time.Second, newRecordingMetrics(), zerolog.Nop(),
	))
	defer front.Close()

	resp := proxyGet(t, front.URL, "events.localhost", "/stream")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the first chunk must arrive while the upstream handler is still blocked
	buf := make([]byte, 64)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "first")

	close(release)
	rest, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(rest), "second")
}

type panickyTable struct{}

func (panickyTable) Lookup(string) (models.Endpoint, bool) { panic("lookup exploded") }
func (panickyTable) Snapshot() []models.Endpoint           { return nil }

func TestPanicRendersInternalError(t *testing.T) {
	mtr := newRecordingMetrics()
	s := New(panickyTable{}, time.Second, mtr, zerolog.Nop())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://api.localhost/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal proxy error", body.Error)
	assert.Equal(t, 1, mtr.count("dispatch.panic"))
}
