package hubfsm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
)

// historyCap bounds the in-memory transition ring buffer (§4.6).
const historyCap = 200

// Hub is the singleton autonomous state machine. Construct with New
// and drive it with Start; all other methods are safe for concurrent
// use.
type Hub struct {
	mu sync.Mutex

	state           State
	paused          bool
	cycleCount      int
	transitionCount int
	lastTransition  time.Time
	history         []TransitionEntry

	healingAttempts      []time.Time
	healingCooldownUntil time.Time

	cycleRunning bool
	lastFindings bool
	cycleDone    bool
	cancelCycle  context.CancelFunc

	goals        GoalSource
	budget       BudgetChecker
	health       HealthChecker
	improvement  ImprovementSignal
	orchestrator Orchestrator
	cycles       map[State]Cycle

	bus          *events.Bus
	cfg          *config.Runtime
	tickInterval time.Duration
	now          func() time.Time

	unsubscribe func()
	stopOnce    sync.Once
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// Deps bundles the Hub's collaborators so New doesn't take an
// unreadable parameter list. A nil field disables the transitions that
// depend on it (e.g. a nil ImprovementSignal means the hub never
// enters improving).
type Deps struct {
	Goals        GoalSource
	Budget       BudgetChecker
	Health       HealthChecker
	Improvement  ImprovementSignal
	Orchestrator Orchestrator
	Cycles       map[State]Cycle
}

// New constructs a Hub starting in resting. tickInterval is 1 second
// in production (§4.6's "1 Hz tick"); tests may pass a shorter value.
func New(bus *events.Bus, cfg *config.Runtime, tickInterval time.Duration, deps Deps) *Hub {
	now := time.Now()
	return &Hub{
		state:          StateResting,
		lastTransition: now,
		goals:          deps.Goals,
		budget:         deps.Budget,
		health:         deps.Health,
		improvement:    deps.Improvement,
		orchestrator:   deps.Orchestrator,
		cycles:         deps.Cycles,
		bus:            bus,
		cfg:            cfg,
		tickInterval:   tickInterval,
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
}

// Start launches the 1 Hz tick loop. PubSub subscriptions here only
// update internal bookkeeping (cycle completion); only the ticker
// drives transitions (§4.6).
func (h *Hub) Start(ctx context.Context) {
	ch, unsubscribe := h.bus.Subscribe(events.TopicCycleComplete)
	h.unsubscribe = unsubscribe

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case env := <-ch:
				h.onCycleComplete(env.Data)
			case <-ticker.C:
				h.tick()
			}
		}
	}()
}

// Stop halts the tick loop and cancels any running cycle.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	cancel := h.cancelCycle
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Hub) onCycleComplete(data any) {
	findings, _ := data.(bool)
	h.mu.Lock()
	h.cycleDone = true
	h.lastFindings = findings
	h.mu.Unlock()
}

func (h *Hub) tick() {
	h.mu.Lock()
	if h.now().Sub(h.lastTransition) > h.cfg.HubWatchdog() {
		h.mu.Unlock()
		h.forceWatchdogReset()
		return
	}
	paused := h.paused
	state := h.state
	h.mu.Unlock()

	if paused {
		return
	}

	if state == StateExecuting && h.orchestrator != nil {
		if err := h.orchestrator.RunCycle(); err != nil {
			slog.Error("hubfsm: orchestrator cycle failed", "error", err)
		}
	}

	newState, reason, ok := h.evaluate(state)
	if !ok {
		return
	}
	h.transitionTo(newState, reason)
}

// forceWatchdogReset is invoked when the watchdog timer has fired; it
// forces a transition to resting regardless of current state and
// resets the timer on the way out (§4.6).
func (h *Hub) forceWatchdogReset() {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == StateResting {
		h.mu.Lock()
		h.lastTransition = h.now()
		h.mu.Unlock()
		return
	}
	h.transitionTo(StateResting, "watchdog fired")
}

// evaluate applies the transition table in §4.6 to the current state,
// reading every predicate fresh.
func (h *Hub) evaluate(state State) (State, string, bool) {
	h.mu.Lock()
	cycleDone := h.cycleDone
	findings := h.lastFindings
	h.mu.Unlock()

	switch state {
	case StateResting:
		if h.pendingGoals() > 0 && h.budgetAvailable(categoryExecuting) {
			return StateExecuting, "pending goals present and executing budget available", true
		}
		if h.improvementPending() && h.budgetAvailable(categoryImproving) {
			return StateImproving, "external improvement signal", true
		}
		if h.healthCritical() && !h.inHealingCooldown() && h.healingAttemptsInWindow() < h.cfg.HubHealingMaxAttempts() {
			return StateHealing, "critical health", true
		}

	case StateExecuting:
		if h.healthCritical() {
			return StateHealing, "critical health signal", true
		}
		if h.pendingGoals() == 0 {
			return StateResting, "no pending or active goals", true
		}
		if !h.budgetAvailable(categoryExecuting) {
			return StateResting, "executing budget exhausted", true
		}

	case StateImproving:
		if !cycleDone {
			return "", "", false
		}
		if h.pendingGoals() > 0 {
			return StateExecuting, "goals appeared during improvement", true
		}
		if !findings && h.budgetAvailable(categoryContemplating) {
			return StateContemplating, "improvement cycle produced no findings", true
		}
		return StateResting, "improvement cycle complete", true

	case StateContemplating:
		if h.healthCritical() {
			return StateHealing, "critical health", true
		}
		if !cycleDone {
			return "", "", false
		}
		if h.pendingGoals() > 0 {
			return StateExecuting, "cycle complete, goals pending", true
		}
		return StateResting, "cycle complete", true

	case StateHealing:
		if !cycleDone {
			return "", "", false
		}
		return StateResting, "healing cycle complete", true
	}
	return "", "", false
}

func (h *Hub) pendingGoals() int {
	if h.goals == nil {
		return 0
	}
	return h.goals.PendingGoals()
}

func (h *Hub) budgetAvailable(category string) bool {
	if h.budget == nil {
		return true
	}
	return h.budget.Available(category)
}

func (h *Hub) healthCritical() bool {
	if h.health == nil {
		return false
	}
	return h.health.Critical()
}

func (h *Hub) improvementPending() bool {
	if h.improvement == nil {
		return false
	}
	return h.improvement.Pending()
}

func (h *Hub) inHealingCooldown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now().Before(h.healingCooldownUntil)
}

func (h *Hub) healingAttemptsInWindow() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := h.now().Add(-h.cfg.HubHealingWindow())
	n := 0
	for _, at := range h.healingAttempts {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// transitionTo performs the transition: records history, (de)spawns
// cycle tasks, and publishes hub_state_changed (§4.6).
func (h *Hub) transitionTo(newState State, reason string) {
	h.mu.Lock()
	oldState := h.state
	if oldState == newState {
		h.mu.Unlock()
		return
	}
	now := h.now()
	h.transitionCount++
	h.history = append(h.history, TransitionEntry{
		From: oldState, To: newState, Reason: reason,
		Timestamp: now, TransitionCount: h.transitionCount,
	})
	if len(h.history) > historyCap {
		h.history = h.history[len(h.history)-historyCap:]
	}
	h.lastTransition = now
	h.cycleDone = false
	h.lastFindings = false

	if newState == StateHealing {
		h.healingAttempts = append(h.healingAttempts, now)
	}
	if oldState == StateHealing && newState == StateResting {
		h.healingCooldownUntil = now.Add(h.cfg.HubHealingCooldown())
	}
	if isCycleState(newState) {
		h.cycleCount++
	}

	cancel := h.cancelCycle
	h.state = newState
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.startCycle(newState)

	slog.Info("hubfsm: transition", "from", oldState, "to", newState, "reason", reason)
	h.bus.Publish(events.TopicHubStateChanged, StateChangedEvent{From: oldState, To: newState, Reason: reason})
}

func isCycleState(s State) bool {
	switch s {
	case StateExecuting, StateImproving, StateContemplating, StateHealing:
		return true
	default:
		return false
	}
}

func (h *Hub) startCycle(state State) {
	cycle, ok := h.cycles[state]
	if !ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancelCycle = cancel
	h.cycleRunning = true
	h.mu.Unlock()

	go func() {
		findings, err := cycle.Run(ctx)
		if err != nil {
			slog.Error("hubfsm: cycle failed", "state", state, "error", err)
		}
		h.mu.Lock()
		h.cycleRunning = false
		h.mu.Unlock()
		h.bus.Publish(events.TopicCycleComplete, findings)
	}()
}

// StateChangedEvent is the hub_state_changed payload.
type StateChangedEvent struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// Pause halts autonomous transitions; ticks continue firing but
// evaluate() is never consulted while paused (§4.6).
func (h *Hub) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
}

// Resume re-enables autonomous transitions.
func (h *Hub) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
}

// StopFSM is the composite "stop" operation: pause, then force a
// transition to resting (§4.6). Named StopFSM, not Stop, to avoid
// colliding with the tick-loop teardown method.
func (h *Hub) StopFSM(reason string) error {
	h.Pause()
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == StateResting {
		return nil
	}
	h.transitionTo(StateResting, reason)
	return nil
}

// ForceTransition validates newState against the allowed-transitions
// table and, if valid, performs it unconditionally — bypassing every
// predicate in evaluate() (§4.6).
func (h *Hub) ForceTransition(newState State, reason string) error {
	h.mu.Lock()
	current := h.state
	h.mu.Unlock()
	if !isAllowed(current, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newState)
	}
	h.transitionTo(newState, reason)
	return nil
}

// Snapshot returns a read-only copy of the hub's current state for
// dashboard/HTTP consumption.
func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	history := make([]TransitionEntry, len(h.history))
	copy(history, h.history)
	return Snapshot{
		State:             h.state,
		Paused:            h.paused,
		CycleCount:        h.cycleCount,
		TransitionCount:   h.transitionCount,
		LastTransitionAt:  h.lastTransition,
		History:           history,
	}
}
