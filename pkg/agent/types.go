// Package agent implements the Presence Registry and the per-agent
// state machine (§4.2): the map of connected agents, liveness tracking,
// and the idle/assigned/working/offline transitions that govern task
// delivery to a single agent's session.
package agent

import "time"

// State is an agent's position in its per-connection state machine.
type State string

const (
	StateIdle     State = "idle"
	StateAssigned State = "assigned"
	StateWorking  State = "working"
	StateOffline  State = "offline"
)

// Capability is a declared agent ability. Version is a wildcard when
// empty, matching any capability of the same name (§4.2).
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Session is the transport-level handle an Agent uses to push work and
// receive replies. Implemented by the websocket layer in pkg/api;
// defined here so the state machine never depends on the transport.
type Session interface {
	// Push delivers a message to the agent. Implementations must not
	// block indefinitely; a slow or dead session should time out on its
	// own write deadline rather than stall the caller.
	Push(msg any) error
	// Close tears down the underlying connection.
	Close() error
}

// Agent is the registry's record for one connected (or recently
// disconnected, during the grace window) agent.
type Agent struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Capabilities  []Capability `json:"capabilities"`
	OllamaURL     string       `json:"ollama_url,omitempty"`
	CloudAPICapable bool       `json:"cloud_api_capable"`

	State         State      `json:"state"`
	CurrentTaskID string     `json:"current_task_id,omitempty"`
	Generation    int        `json:"generation,omitempty"`

	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`

	session Session
}

// HasCapabilities reports whether a satisfies every required capability
// name. An absent version on the agent's declared capability is a
// wildcard; empty required list is always satisfied (§4.2/§4.4.1).
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	declared := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		declared[c.Name] = true
	}
	for _, name := range required {
		if !declared[name] {
			return false
		}
	}
	return true
}

// IdentifyParams are the caller-supplied fields at WebSocket identify.
type IdentifyParams struct {
	ID           string
	Name         string
	Capabilities []Capability
	OllamaURL    string
	CloudAPICapable bool
	Session      Session
}
