package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
)

// TaskReclaimer is the narrow slice of the Task Queue the agent state
// machine needs: pushing a held task back to queued on disconnect,
// rejection, or acceptance timeout. Defined here, on the consumer side,
// so this package never imports pkg/task.
type TaskReclaimer interface {
	Reclaim(taskID string) error
}

type entry struct {
	agent       Agent
	acceptTimer *time.Timer
	graceTimer  *time.Timer
}

// Registry is the Presence Registry plus the per-agent state machine
// (§4.2's two rows are implemented together here, the way tarsy's
// session.Manager owns both the session map and the lifecycle rules
// that mutate entries in it).
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*entry
	bus      *events.Bus
	cfg      *config.Runtime
	reclaim  TaskReclaimer
	now      func() time.Time
	grace    time.Duration
}

// NewRegistry constructs a Registry. grace is the disconnect grace
// window before an offline agent is actually removed.
func NewRegistry(bus *events.Bus, cfg *config.Runtime, reclaim TaskReclaimer, grace time.Duration) *Registry {
	return &Registry{
		agents:  make(map[string]*entry),
		bus:     bus,
		cfg:     cfg,
		reclaim: reclaim,
		now:     time.Now,
		grace:   grace,
	}
}

// Identify registers a new agent at idle, or re-admits a previously
// offline one, cancelling its pending removal (§4.2: "offline | identify
// succeeds | idle | Re-enter registry; publish agent_joined").
func (r *Registry) Identify(params IdentifyParams) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, existed := r.agents[params.ID]
	if existed && e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	if !existed {
		e = &entry{}
		r.agents[params.ID] = e
	}

	e.agent = Agent{
		ID:              params.ID,
		Name:            params.Name,
		Capabilities:    params.Capabilities,
		OllamaURL:       params.OllamaURL,
		CloudAPICapable: params.CloudAPICapable,
		State:           StateIdle,
		ConnectedAt:     now,
		LastSeen:        now,
		session:         params.Session,
	}

	r.bus.Publish(events.TopicAgentJoined, params.ID)
	out := e.agent
	return &out
}

// Get returns a copy of one agent's current record.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	out := e.agent
	return &out, true
}

// ListIdle returns idle agents whose capabilities satisfy required and
// who are not in excluded (the scheduler's rate-limit exclusion set,
// §4.4).
func (r *Registry) ListIdle(required []string, excluded map[string]bool) []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Agent
	for id, e := range r.agents {
		if e.agent.State != StateIdle {
			continue
		}
		if excluded[id] {
			continue
		}
		if !e.agent.HasCapabilities(required) {
			continue
		}
		out = append(out, e.agent)
	}
	return out
}

// List returns every registered agent regardless of state, for the
// dashboard snapshot.
func (r *Registry) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.agent)
	}
	return out
}

// Touch records a liveness ping, updating last_seen.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		e.agent.LastSeen = r.now()
	}
}

// PushTask transitions idle→assigned, delivers msg over the agent's
// session, and arms the acceptance timeout (§4.2).
func (r *Registry) PushTask(id, taskID string, generation int, msg any) error {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if e.agent.State != StateIdle {
		r.mu.Unlock()
		return ErrNoCapacity
	}

	e.agent.State = StateAssigned
	e.agent.CurrentTaskID = taskID
	e.agent.Generation = generation
	session := e.agent.session
	timeout := r.cfg.AcceptanceTimeout()
	e.acceptTimer = time.AfterFunc(timeout, func() { r.onAcceptanceTimeout(id, taskID, generation) })
	r.mu.Unlock()

	r.bus.Publish(events.TopicAgentStatusChange, statusChangedPayload(id, StateAssigned))

	if session != nil {
		if err := session.Push(msg); err != nil {
			slog.Warn("agent: push failed, leaving acceptance timer armed", "agent_id", id, "error", err)
			return err
		}
	}
	return nil
}

func (r *Registry) onAcceptanceTimeout(id, taskID string, generation int) {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok || e.agent.State != StateAssigned || e.agent.CurrentTaskID != taskID || e.agent.Generation != generation {
		r.mu.Unlock()
		return
	}
	e.agent.State = StateIdle
	e.agent.CurrentTaskID = ""
	r.mu.Unlock()

	if err := r.reclaim.Reclaim(taskID); err != nil {
		slog.Error("agent: reclaim after acceptance timeout failed", "agent_id", id, "task_id", taskID, "error", err)
	}
	r.bus.Publish(events.TopicAgentIdle, id)
}

// TaskAccepted transitions assigned→working iff taskID/generation match
// the currently pushed task.
func (r *Registry) TaskAccepted(id, taskID string, generation int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if e.agent.State != StateAssigned {
		return ErrInvalidState
	}
	if e.agent.CurrentTaskID != taskID || e.agent.Generation != generation {
		return ErrGenerationMismatch
	}
	if e.acceptTimer != nil {
		e.acceptTimer.Stop()
		e.acceptTimer = nil
	}
	e.agent.State = StateWorking
	r.bus.Publish(events.TopicAgentStatusChange, statusChangedPayload(id, StateWorking))
	return nil
}

// TaskRejected transitions assigned→idle, reclaiming the task.
func (r *Registry) TaskRejected(id, taskID string) error {
	if err := r.clearCurrentTask(id, taskID, StateAssigned); err != nil {
		return err
	}
	if err := r.reclaim.Reclaim(taskID); err != nil {
		slog.Error("agent: reclaim after task rejection failed", "agent_id", id, "task_id", taskID, "error", err)
	}
	r.bus.Publish(events.TopicAgentIdle, id)
	return nil
}

// TaskComplete transitions working→idle. The Task Queue, not this
// package, validates the completion's generation.
func (r *Registry) TaskComplete(id, taskID string) error {
	if err := r.clearCurrentTask(id, taskID, StateWorking); err != nil {
		return err
	}
	r.bus.Publish(events.TopicAgentIdle, id)
	return nil
}

// TaskFailed transitions working→idle, same shape as TaskComplete.
func (r *Registry) TaskFailed(id, taskID string) error {
	return r.TaskComplete(id, taskID)
}

func (r *Registry) clearCurrentTask(id, taskID string, want State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[id]
	if !ok {
		return ErrNotFound
	}
	if e.agent.State != want {
		return ErrInvalidState
	}
	if e.acceptTimer != nil {
		e.acceptTimer.Stop()
		e.acceptTimer = nil
	}
	e.agent.State = StateIdle
	e.agent.CurrentTaskID = ""
	return nil
}

// Disconnect drives an agent to offline immediately and arms the grace
// window removal (§4.2). Called on session close and on liveness
// eviction alike.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok || e.agent.State == StateOffline {
		r.mu.Unlock()
		return
	}
	if e.acceptTimer != nil {
		e.acceptTimer.Stop()
		e.acceptTimer = nil
	}
	heldTask := e.agent.CurrentTaskID
	e.agent.State = StateOffline
	e.agent.session = nil
	e.graceTimer = time.AfterFunc(r.grace, func() { r.onGraceExpired(id) })
	r.mu.Unlock()

	if heldTask != "" {
		slog.Info("agent: disconnected while holding a task, awaiting grace window", "agent_id", id, "task_id", heldTask)
	}
}

func (r *Registry) onGraceExpired(id string) {
	r.mu.Lock()
	e, ok := r.agents[id]
	if !ok || e.agent.State != StateOffline {
		r.mu.Unlock()
		return
	}
	heldTask := e.agent.CurrentTaskID
	delete(r.agents, id)
	r.mu.Unlock()

	if heldTask != "" {
		if err := r.reclaim.Reclaim(heldTask); err != nil {
			slog.Error("agent: reclaim on grace expiry failed", "agent_id", id, "task_id", heldTask, "error", err)
		}
	}
	r.bus.Publish(events.TopicAgentLeft, id)
}

// SweepStaleLiveness evicts every agent whose last_seen exceeds ttl,
// driving them to offline exactly as a closed session would (§4.2:
// "Eviction is performed by a sweeper running at half the TTL
// interval").
func (r *Registry) SweepStaleLiveness(ttl time.Duration) (evicted []string) {
	r.mu.Lock()
	now := r.now()
	var stale []string
	for id, e := range r.agents {
		if e.agent.State == StateOffline {
			continue
		}
		if now.Sub(e.agent.LastSeen) > ttl {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Disconnect(id)
		evicted = append(evicted, id)
	}
	return evicted
}

// PresentIDs returns every agent id currently non-offline, for the Task
// Queue's startup orphan sweep.
func (r *Registry) PresentIDs() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.agents))
	for id, e := range r.agents {
		if e.agent.State != StateOffline {
			out[id] = true
		}
	}
	return out
}

type statusChangedEvent struct {
	AgentID string `json:"agent_id"`
	State   State  `json:"state"`
}

func statusChangedPayload(id string, state State) statusChangedEvent {
	return statusChangedEvent{AgentID: id, State: state}
}
