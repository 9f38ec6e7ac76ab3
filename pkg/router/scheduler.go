package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/task"
)

// RateLimiter reports whether an agent is currently excluded from
// scheduling by an external rate-limiter (§4.4: "agents currently
// marked rate-limited... are filtered out of the idle set").
type RateLimiter interface {
	IsRateLimited(agentID string) bool
}

// AllowAll is a RateLimiter that never excludes anyone — the default
// when no external rate-limiter is wired in.
type AllowAll struct{}

func (AllowAll) IsRateLimited(string) bool { return false }

type pendingFallback struct {
	originalTier task.Tier
	fallbackTier task.Tier
	timer        *time.Timer
}

// Health mirrors tarsy's worker-pool health-reporting shape
// (PoolHealth/WorkerHealth), repurposed for scheduler introspection
// consumed by the Dashboard Snapshotter.
type Health struct {
	IdleAgentCount      int
	PendingFallbacks    int
	LastRoundDuration   time.Duration
	LastRoundAssigned   int
}

// Scheduler is the stateful half of §4.4: it runs scoring rounds over
// the pure Route function, commits assignments, and manages the
// one-step fallback timer.
type Scheduler struct {
	queue     *task.Queue
	agents    *agent.Registry
	endpoints *endpoint.Registry
	cfg       *config.Runtime
	bus       *events.Bus
	limiter   RateLimiter

	mu      sync.Mutex
	pending map[string]*pendingFallback
	health  Health

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Scheduler. limiter may be nil, in which case no
// agent is ever excluded for being rate-limited.
func New(queue *task.Queue, agents *agent.Registry, endpoints *endpoint.Registry, cfg *config.Runtime, bus *events.Bus, limiter RateLimiter) *Scheduler {
	if limiter == nil {
		limiter = AllowAll{}
	}
	return &Scheduler{
		queue:     queue,
		agents:    agents,
		endpoints: endpoints,
		cfg:       cfg,
		bus:       bus,
		limiter:   limiter,
		pending:   make(map[string]*pendingFallback),
		stopCh:    make(chan struct{}),
	}
}

// schedulingTrigger is one topic Start subscribes to: whether receiving
// it should cancel any pending fallback timer for the event's task
// (§4.4's separate fallback-cleanup rule) before running a scheduling
// round.
type schedulingTrigger struct {
	topic          string
	cancelFallback bool
}

// Start subscribes to every event that should trigger a scheduling
// round — task_submitted, task_retried, task_reclaimed, agent_joined,
// agent_idle, endpoint_changed (§4.4) — plus task_assigned,
// task_completed and task_dead_letter. For those three and
// task_reclaimed, the event's pending fallback timer is cancelled
// before the round runs. Start also launches the overdue/TTL sweep
// ticker.
func (s *Scheduler) Start(ctx context.Context) {
	triggers := []schedulingTrigger{
		{topic: events.TopicTaskSubmitted},
		{topic: events.TopicTaskRetried},
		{topic: events.TopicTaskReclaimed, cancelFallback: true},
		{topic: events.TopicAgentJoined},
		{topic: events.TopicAgentIdle},
		{topic: events.TopicEndpointChanged},
		{topic: events.TopicTaskAssigned, cancelFallback: true},
		{topic: events.TopicTaskCompleted, cancelFallback: true},
		{topic: events.TopicTaskDeadLetter, cancelFallback: true},
	}
	for _, trig := range triggers {
		ch, unsub := s.bus.Subscribe(trig.topic)
		s.wg.Add(1)
		go func(ch <-chan events.Envelope, unsub func(), cancelFallback bool) {
			defer s.wg.Done()
			defer unsub()
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.stopCh:
					return
				case env, ok := <-ch:
					if !ok {
						return
					}
					if cancelFallback {
						if taskID, ok := env.Data.(string); ok {
							s.cancelFallback(taskID)
						}
					}
					s.TrySchedule()
				}
			}
		}(ch, unsub, trig.cancelFallback)
	}

	s.wg.Add(1)
	go s.runSweepLoop(ctx)
}

// Stop ends all background goroutines.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) runSweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.OverdueSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if reclaimed := s.queue.SweepOverdue(); len(reclaimed) > 0 {
				slog.Info("router: overdue sweep reclaimed tasks", "count", len(reclaimed))
			}
			if expired := s.queue.SweepTTL(s.cfg.TaskTTL()); len(expired) > 0 {
				slog.Info("router: ttl sweep expired tasks", "count", len(expired))
			}
		}
	}
}

// TrySchedule runs one scoring round: iterate queued tasks in priority
// order, route each against the current idle/healthy snapshot, commit
// successful assignments, and arm fallback timers for unavailable ones
// (§4.4's try_schedule_all).
func (s *Scheduler) TrySchedule() {
	start := time.Now()
	assigned := 0

	tasks, err := s.queue.QueuedInPriorityOrder()
	if err != nil {
		slog.Error("router: failed to read queue for scheduling round", "error", err)
		return
	}

	idle := s.idleAgentsExcludingRateLimited()
	endpoints, err := s.endpoints.List("")
	if err != nil {
		slog.Error("router: failed to list endpoints for scheduling round", "error", err)
		return
	}
	model := s.cfg.DefaultOllamaModel()

	for _, t := range tasks {
		result := Route(t, idle, endpoints, model, "", time.Now())
		if !result.Available {
			s.armFallback(t, result.FallbackTier)
			continue
		}

		assignedTask, err := s.queue.Assign(t.ID, result.AgentID, task.AssignOpts{RoutingDecision: &result.Decision})
		if err != nil {
			if errors.As(err, new(*task.StateError)) {
				continue // another round already claimed it
			}
			slog.Error("router: assign failed", "task_id", t.ID, "error", err)
			continue
		}

		if err := s.agents.PushTask(result.AgentID, assignedTask.ID, assignedTask.Generation, assignedTask.PushPayload()); err != nil {
			slog.Warn("router: push to agent failed after commit", "agent_id", result.AgentID, "task_id", assignedTask.ID, "error", err)
		}
		s.cancelFallback(t.ID)
		idle = removeAgent(idle, result.AgentID)
		assigned++
	}

	s.mu.Lock()
	s.health = Health{
		IdleAgentCount:    len(idle),
		PendingFallbacks:  len(s.pending),
		LastRoundDuration: time.Since(start),
		LastRoundAssigned: assigned,
	}
	s.mu.Unlock()
}

func (s *Scheduler) idleAgentsExcludingRateLimited() []agent.Agent {
	all := s.agents.ListIdle(nil, nil)
	out := all[:0:0]
	for _, a := range all {
		if !s.limiter.IsRateLimited(a.ID) {
			out = append(out, a)
		}
	}
	return out
}

func removeAgent(agents []agent.Agent, id string) []agent.Agent {
	out := agents[:0]
	for _, a := range agents {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// armFallback records a pending fallback and starts its timer, unless
// one is already pending for this task (§4.4.2).
func (s *Scheduler) armFallback(t *task.Task, fallbackTier task.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[t.ID]; exists {
		return
	}

	wait := s.cfg.FallbackWait()
	taskID := t.ID
	originalTier := resolveTier(t)
	timer := time.AfterFunc(wait, func() { s.onFallbackTimer(taskID, fallbackTier) })
	s.pending[taskID] = &pendingFallback{originalTier: originalTier, fallbackTier: fallbackTier, timer: timer}
}

// cancelFallback removes and stops any pending fallback for taskID,
// per the cleanup rule in §4.4.2.
func (s *Scheduler) cancelFallback(taskID string) {
	s.mu.Lock()
	p, ok := s.pending[taskID]
	if ok {
		delete(s.pending, taskID)
	}
	s.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
}

func (s *Scheduler) onFallbackTimer(taskID string, fallbackTier task.Tier) {
	s.mu.Lock()
	_, stillPending := s.pending[taskID]
	if stillPending {
		delete(s.pending, taskID)
	}
	s.mu.Unlock()
	if !stillPending {
		return
	}

	t, err := s.queue.Get(taskID)
	if err != nil || t.Status != task.StatusQueued {
		return
	}

	idle := s.idleAgentsExcludingRateLimited()
	endpoints, err := s.endpoints.List("")
	if err != nil {
		return
	}
	result := Route(t, idle, endpoints, s.cfg.DefaultOllamaModel(), fallbackTier, time.Now())
	if !result.Available {
		return
	}
	result.Decision.FallbackUsed = true
	result.Decision.FallbackFromTier = resolveTier(t)
	result.Decision.FallbackReason = "preferred tier exhausted fallback_wait_ms with no candidates"

	assignedTask, err := s.queue.Assign(t.ID, result.AgentID, task.AssignOpts{RoutingDecision: &result.Decision})
	if err != nil {
		return
	}
	if err := s.agents.PushTask(result.AgentID, assignedTask.ID, assignedTask.Generation, assignedTask.PushPayload()); err != nil {
		slog.Warn("router: push to agent failed after fallback commit", "agent_id", result.AgentID, "task_id", assignedTask.ID, "error", err)
	}
}

// HealthSnapshot returns the most recent round's health (§9's
// supplemented SchedulerHealth, consumed by the Dashboard Snapshotter),
// with PendingFallbacks counted at call time.
func (s *Scheduler) HealthSnapshot() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health
	h.PendingFallbacks = len(s.pending)
	return h
}
