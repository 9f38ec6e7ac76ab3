// Package endpoint implements the Endpoint Registry (§4.5): the durable
// table of LLM endpoints, periodic health probing, and the in-memory
// resource-snapshot map the Router consults when scoring Ollama
// candidates.
package endpoint

import "time"

// Status is an endpoint's health as seen by the prober.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Kind distinguishes the two target types the Router can route to that
// involve an endpoint (trivial/sidecar routing never touches this
// registry at all).
type Kind string

const (
	KindOllama   Kind = "ollama"
	KindCloudAPI Kind = "cloud_api"
)

// Endpoint is the durable record (§4.5's "durable endpoint table").
type Endpoint struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterParams are the caller-supplied fields for Register.
type RegisterParams struct {
	ID      string
	Kind    Kind
	Address string
}

// ResourceSnapshot is the latest self-reported load for one endpoint's
// home agent (§4.5: "agents periodically push resource snapshots...
// latest snapshot replaces any prior. In-memory only; no persistence").
type ResourceSnapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	RAMTotalMB    float64   `json:"ram_total_mb"`
	RAMUsedMB     float64   `json:"ram_used_mb"`
	VRAMTotalMB   float64   `json:"vram_total_mb,omitempty"`
	VRAMUsedMB    float64   `json:"vram_used_mb,omitempty"`
	LoadedModels  []string  `json:"loaded_models,omitempty"`
	RecentRepos   []string  `json:"recent_repos,omitempty"`
	ReportedAt    time.Time `json:"reported_at"`
}

// StatusSnapshot is the read-only view List/Get return: the durable
// record plus its in-memory status, model list, and resources.
type StatusSnapshot struct {
	Endpoint
	Status     Status            `json:"status"`
	Models     []string          `json:"models,omitempty"`
	Resources  *ResourceSnapshot `json:"resources,omitempty"`
}

// ChangedEvent is published on events.TopicEndpointChanged.
type ChangedEvent struct {
	EndpointID string    `json:"endpoint_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	At         time.Time `json:"at"`
}
