// Package resolver derives routable endpoints from container metadata.
package resolver

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/dockside/dockside/internal/docker"
	"github.com/dockside/dockside/internal/models"
)

// DefaultPort is assumed for containers that declare no exposed ports.
const DefaultPort = "80"

// Error reports why one workload could not be resolved. Resolution failures
// are per-workload diagnostics; they never abort a reconciliation pass.
type Error struct {
	Name   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Name, e.Reason)
}

// Resolve computes the endpoint for one running container from its inspect
// metadata. Pure: it never talks to the daemon.
//
// Address selection prefers the default-bridge address; containers attached
// only to user-defined networks are scanned in lexicographic network-name
// order and the first non-empty address wins. The order is fixed so repeated
// passes over identical metadata resolve identically.
func Resolve(detail docker.ContainerDetail) (models.Endpoint, error) {
	name := detail.CanonicalName()
	if name == "" {
		return models.Endpoint{}, &Error{Name: detail.ID, Reason: "container has no name"}
	}

	address := detail.NetworkSettings.IPAddress
	if address == "" {
		address = firstNetworkAddress(detail.NetworkSettings.Networks)
	}
	if address == "" {
		return models.Endpoint{}, &Error{Name: name, Reason: "no address on any attached network"}
	}

	return models.Endpoint{
		Name:    name,
		Address: address,
		Port:    exposedPort(detail.Config.ExposedPorts),
	}, nil
}

func firstNetworkAddress(networks map[string]docker.Network) string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if addr := networks[name].IPAddress; addr != "" {
			return addr
		}
	}
	return ""
}

// exposedPort picks the numerically lowest declared port, protocol suffix
// stripped ("8080/tcp" -> "8080").
func exposedPort(exposed map[string]struct{}) string {
	if len(exposed) == 0 {
		return DefaultPort
	}

	keys := make([]string, 0, len(exposed))
	for key := range exposed {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if d := portNumber(a) - portNumber(b); d != 0 {
			return d
		}
		return cmp.Compare(a, b)
	})

	selected := portPart(keys[0])
	if selected == "" {
		return DefaultPort
	}
	return selected
}

func portPart(key string) string {
	port, _, _ := strings.Cut(key, "/")
	return port
}

func portNumber(key string) int {
	n, err := strconv.Atoi(portPart(key))
	if err != nil {
		// unparsable keys sort last
		return math.MaxInt32
	}
	return n
}
