// Package reconciler rebuilds the routing table from the container
// runtime's authoritative state.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dockside/dockside/internal/docker"
	"github.com/dockside/dockside/internal/models"
	"github.com/dockside/dockside/internal/resolver"
)

// RuntimeClient is the slice of the daemon API one pass needs.
type RuntimeClient interface {
	ListContainers(ctx context.Context) ([]docker.ContainerSummary, error)
	InspectContainer(ctx context.Context, id string) (docker.ContainerDetail, error)
}

// RouteTable is the write side of the routing table.
type RouteTable interface {
	Replace(entries map[string]models.Endpoint)
}

// RouteFailure names one workload left out of the rebuilt table and why.
type RouteFailure struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Report summarizes one reconciliation pass. Informational only; the
// scheduler logs it.
type Report struct {
	Routes   int
	Failures []RouteFailure
}

type Reconciler struct {
	runtime RuntimeClient
	table   RouteTable
	log     zerolog.Logger
}

func New(runtime RuntimeClient, table RouteTable, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		runtime: runtime,
		table:   table,
		log:     logger.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile rebuilds the routing table from the daemon's container list.
//
// A listing failure aborts the pass and leaves the previous table untouched;
// a broken daemon call must never clear a good table. Per-container inspect
// and resolution failures only omit that container. Exactly one Replace
// happens on success, however many containers were skipped.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	containers, err := r.runtime.ListContainers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list running containers: %w", err)
	}

	var (
		entries  = make(map[string]models.Endpoint, len(containers))
		failures []RouteFailure
	)
	for _, c := range containers {
		detail, err := r.runtime.InspectContainer(ctx, c.ID)
		if err != nil {
			r.log.Warn().Err(err).Msgf("skipping %s: inspect failed", c.Name())
			failures = append(failures, RouteFailure{Name: c.Name(), Reason: err.Error()})
			continue
		}
		ep, err := resolver.Resolve(detail)
		if err != nil {
			r.log.Warn().Err(err).Msgf("skipping %s: no routable endpoint", c.Name())
			failures = append(failures, routeFailure(c, err))
			continue
		}
		// The daemon enforces name uniqueness, so collisions should not
		// happen; last listed wins if one does.
		entries[ep.Name] = ep
	}

	r.table.Replace(entries)
	return Report{Routes: len(entries), Failures: failures}, nil
}

func routeFailure(c docker.ContainerSummary, err error) RouteFailure {
	var resErr *resolver.Error
	if errors.As(err, &resErr) {
		return RouteFailure{Name: resErr.Name, Reason: resErr.Reason}
	}
	return RouteFailure{Name: c.Name(), Reason: err.Error()}
}
