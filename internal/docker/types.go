package docker

import "strings"

// ContainerSummary is one entry of the daemon's running-container listing.
type ContainerSummary struct {
	ID    string   `json:"Id"`
	Names []string `json:"Names"`
	Image string   `json:"Image"`
	State string   `json:"State"`
}

// Name returns the primary container name without the leading slash the
// daemon puts on listing entries.
func (c ContainerSummary) Name() string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// ContainerDetail is the subset of the inspect output needed to route to a
// container: its name, declared ports and network attachments.
type ContainerDetail struct {
	ID              string          `json:"Id"`
	Name            string          `json:"Name"`
	Config          ContainerConfig `json:"Config"`
	NetworkSettings NetworkSettings `json:"NetworkSettings"`
}

// CanonicalName strips the leading slash the daemon keeps on inspect names.
func (c ContainerDetail) CanonicalName() string {
	return strings.TrimPrefix(c.Name, "/")
}

type ContainerConfig struct {
	ExposedPorts map[string]struct{} `json:"ExposedPorts"`
}

type NetworkSettings struct {
	// IPAddress is the default-bridge address; empty for containers attached
	// only to user-defined networks.
	IPAddress string             `json:"IPAddress"`
	Networks  map[string]Network `json:"Networks"`
}

type Network struct {
	IPAddress string `json:"IPAddress"`
}

// EventMessage is one message of the daemon's lifecycle event feed.
type EventMessage struct {
	Type   string     `json:"Type"`
	Action string     `json:"Action"`
	Actor  EventActor `json:"Actor"`
	Time   int64      `json:"time"`
}

type EventActor struct {
	ID         string            `json:"ID"`
	Attributes map[string]string `json:"Attributes"`
}

// SubjectName is the name of the container the event refers to.
func (m EventMessage) SubjectName() string {
	return m.Actor.Attributes["name"]
}
