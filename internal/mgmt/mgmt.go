// Package mgmt serves the operator-facing management API: a health probe and
// a dump of the current routing table.
package mgmt

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dockside/dockside/internal/models"
)

// RouteTable is the read side of the routing table.
type RouteTable interface {
	Snapshot() []models.Endpoint
}

type Server struct {
	table RouteTable
	log   zerolog.Logger
}

func New(table RouteTable, logger zerolog.Logger) *Server {
	return &Server{
		table: table,
		log:   logger.With().Str("component", "mgmt").Logger(),
	}
}

// Handler returns the management mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /routes", s.routes)
	return mux
}

type healthResponse struct {
	Status string            `json:"status"`
	Time   string            `json:"time"`
	Routes []models.Endpoint `json:"routes"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, healthResponse{
		Status: "ok",
		Time:   time.Now().Format(time.RFC3339),
		Routes: s.table.Snapshot(),
	})
}

type routeEntry struct {
	Hostname string `json:"hostname"`
	Target   string `json:"target"`
}

func (s *Server) routes(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.table.Snapshot()
	entries := make([]routeEntry, 0, len(snapshot))
	for _, endpoint := range snapshot {
		entries = append(entries, routeEntry{
			Hostname: endpoint.Hostname(),
			Target:   endpoint.TargetURL(),
		})
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
