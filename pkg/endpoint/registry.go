package endpoint

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

const tableName = "endpoints"

// liveState is the in-memory, never-persisted half of an endpoint's
// record: status plus probe debounce counters plus the latest resource
// snapshot (§4.5).
type liveState struct {
	status              Status
	models              []string
	consecutiveSuccess  int
	consecutiveFailure  int
	resources           *ResourceSnapshot
}

// Registry owns the durable endpoint table and the in-memory
// status/resource map (§4.5).
type Registry struct {
	table *storage.Table
	bus   *events.Bus

	mu    sync.RWMutex
	state map[string]*liveState
}

// NewRegistry opens the durable table and seeds in-memory state for any
// endpoint already on disk from a prior run, starting each at "unknown"
// (§4.5: probing, not persistence, establishes health).
func NewRegistry(engine *storage.Engine, bus *events.Bus) (*Registry, error) {
	table, err := engine.Open(tableName)
	if err != nil {
		return nil, fmt.Errorf("endpoint: open table: %w", err)
	}
	r := &Registry{table: table, bus: bus, state: make(map[string]*liveState)}

	for _, rec := range table.Scan() {
		e, err := fromRecord(rec)
		if err != nil {
			slog.Error("endpoint: skipping undecodable record", "error", err)
			continue
		}
		r.state[e.ID] = &liveState{status: StatusUnknown}
	}
	return r, nil
}

// Register adds a new endpoint to the durable table, starting "unknown".
func (r *Registry) Register(params RegisterParams) (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state[params.ID]; ok {
		return nil, ErrAlreadyRegistered
	}

	e := &Endpoint{ID: params.ID, Kind: params.Kind, Address: params.Address, CreatedAt: time.Now()}
	rec, err := toRecord(e)
	if err != nil {
		return nil, err
	}
	if err := r.table.Put(e.ID, rec); err != nil {
		return nil, err
	}
	r.state[e.ID] = &liveState{status: StatusUnknown}
	return e, nil
}

// Deregister removes an endpoint entirely.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.state[id]; !ok {
		return ErrNotFound
	}
	if err := r.table.Delete(id); err != nil {
		return err
	}
	delete(r.state, id)
	return nil
}

// Get returns one endpoint's durable record plus its live status.
func (r *Registry) Get(id string) (StatusSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(id)
}

func (r *Registry) snapshotLocked(id string) (StatusSnapshot, error) {
	rec, ok, err := r.table.Get(id)
	if err != nil {
		return StatusSnapshot{}, err
	}
	if !ok {
		return StatusSnapshot{}, ErrNotFound
	}
	e, err := fromRecord(rec)
	if err != nil {
		return StatusSnapshot{}, err
	}
	live := r.state[id]
	snap := StatusSnapshot{Endpoint: *e}
	if live != nil {
		snap.Status = live.status
		snap.Models = live.models
		snap.Resources = live.resources
	} else {
		snap.Status = StatusUnknown
	}
	return snap, nil
}

// List returns every registered endpoint's status snapshot, optionally
// filtered by kind (empty kind matches all) — "list_endpoints()" per §4.5.
func (r *Registry) List(kind Kind) ([]StatusSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []StatusSnapshot
	for _, rec := range r.table.Scan() {
		e, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		snap, err := r.snapshotLocked(e.ID)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// GetResources is a lock-free-from-the-caller's-perspective read of the
// in-memory resource map ("get_resources(id)" per §4.5).
func (r *Registry) GetResources(id string) (*ResourceSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	live, ok := r.state[id]
	if !ok || live.resources == nil {
		return nil, false
	}
	cp := *live.resources
	return &cp, true
}

// UpdateResources replaces an endpoint's resource snapshot with the
// latest self-reported values. In-memory only; never persisted (§4.5).
func (r *Registry) UpdateResources(id string, snap ResourceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	live, ok := r.state[id]
	if !ok {
		return ErrNotFound
	}
	snap.ReportedAt = time.Now()
	live.resources = &snap
	return nil
}

// recordProbe applies one probe outcome, flipping status only after two
// consecutive identical results (§4.5), and publishes endpoint_changed
// on any transition.
func (r *Registry) recordProbe(id string, ok bool, models []string) {
	r.mu.Lock()
	live, present := r.state[id]
	if !present {
		r.mu.Unlock()
		return
	}

	prev := live.status
	if ok {
		live.consecutiveSuccess++
		live.consecutiveFailure = 0
		if live.consecutiveSuccess >= 2 {
			live.status = StatusHealthy
			live.models = models
		}
	} else {
		live.consecutiveFailure++
		live.consecutiveSuccess = 0
		if live.consecutiveFailure >= 2 {
			live.status = StatusUnhealthy
		}
	}
	next := live.status
	r.mu.Unlock()

	if next != prev {
		r.bus.Publish(events.TopicEndpointChanged, ChangedEvent{EndpointID: id, From: prev, To: next, At: time.Now()})
	}
}

// ids returns every registered endpoint id, for the prober's round.
func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.state))
	for id := range r.state {
		out = append(out, id)
	}
	return out
}

func (r *Registry) addressOf(id string) (string, Kind, bool) {
	rec, ok, err := r.table.Get(id)
	if err != nil || !ok {
		return "", "", false
	}
	e, err := fromRecord(rec)
	if err != nil {
		return "", "", false
	}
	return e.Address, e.Kind, true
}
