// Package routetable holds the name to endpoint mapping consulted on every
// dispatched request.
package routetable

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/dockside/dockside/internal/models"
)

// Table maps container names to their resolved endpoints. Reconciliation
// replaces the mapping wholesale; dispatch reads it lock-free. The current
// version lives behind an atomic pointer and no published map is ever
// mutated afterwards, so a reader observes either the entirely-previous or
// the entirely-new table, never a mix of the two.
type Table struct {
	current atomic.Pointer[map[string]models.Endpoint]
}

func New() *Table {
	t := &Table{}
	empty := map[string]models.Endpoint{}
	t.current.Store(&empty)
	return t
}

// Replace installs entries as the whole table in one atomic step. Ownership
// of the map transfers to the table; the caller must not touch it again.
func (t *Table) Replace(entries map[string]models.Endpoint) {
	if entries == nil {
		entries = map[string]models.Endpoint{}
	}
	t.current.Store(&entries)
}

// Lookup returns the endpoint registered under name, if any.
func (t *Table) Lookup(name string) (models.Endpoint, bool) {
	ep, ok := (*t.current.Load())[name]
	return ep, ok
}

// Snapshot returns the current table contents sorted by name. The slice is
// detached from the table: later replaces do not affect it.
func (t *Table) Snapshot() []models.Endpoint {
	cur := *t.current.Load()
	eps := make([]models.Endpoint, 0, len(cur))
	for _, ep := range cur {
		eps = append(eps, ep)
	}
	slices.SortFunc(eps, func(a, b models.Endpoint) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return eps
}

// Len reports how many routes the current table holds.
func (t *Table) Len() int {
	return len(*t.current.Load())
}
