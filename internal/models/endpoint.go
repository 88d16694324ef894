package models

import "net"

// Endpoint is one routable workload: the address and port a container
// accepts connections on. Values are immutable; every reconciliation pass
// builds fresh ones instead of mutating entries already published.
type Endpoint struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    string `json:"port"`
}

// Hostname is the proxy-facing name the endpoint is reachable under.
func (e Endpoint) Hostname() string {
	return e.Name + ".localhost"
}

// HostPort is the upstream dial address.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, e.Port)
}

// TargetURL is the upstream origin, always plain http.
func (e Endpoint) TargetURL() string {
	return "http://" + e.HostPort()
}
