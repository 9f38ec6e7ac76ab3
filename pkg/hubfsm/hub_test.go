package hubfsm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
)

type fakeGoals struct{ n int32 }

func (f *fakeGoals) PendingGoals() int { return int(atomic.LoadInt32(&f.n)) }
func (f *fakeGoals) set(n int32)       { atomic.StoreInt32(&f.n, n) }

type fakeBudget struct{ denied map[string]bool }

func (f *fakeBudget) Available(category string) bool { return !f.denied[category] }

type fakeHealth struct{ critical int32 }

func (f *fakeHealth) Critical() bool  { return atomic.LoadInt32(&f.critical) != 0 }
func (f *fakeHealth) set(v bool) {
	if v {
		atomic.StoreInt32(&f.critical, 1)
	} else {
		atomic.StoreInt32(&f.critical, 0)
	}
}

type fakeImprovement struct{ pending int32 }

func (f *fakeImprovement) Pending() bool { return atomic.LoadInt32(&f.pending) != 0 }
func (f *fakeImprovement) set(v bool) {
	if v {
		atomic.StoreInt32(&f.pending, 1)
	} else {
		atomic.StoreInt32(&f.pending, 0)
	}
}

type fakeOrchestrator struct{ calls int32 }

func (f *fakeOrchestrator) RunCycle() error {
	atomic.AddInt32(&f.calls, 1)
	return nil
}

type fakeCycle struct {
	findings bool
	delay    time.Duration
}

func (f fakeCycle) Run(ctx context.Context) (bool, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return f.findings, nil
}

func newTestHub(t *testing.T, deps Deps) (*Hub, *config.Runtime) {
	t.Helper()
	cfg := config.New()
	bus := events.NewBus()
	h := New(bus, cfg, 20*time.Millisecond, deps)
	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})
	return h, cfg
}

func TestRestingTransitionsToExecutingWhenGoalsPending(t *testing.T) {
	goals := &fakeGoals{}
	h, _ := newTestHub(t, Deps{Goals: goals})
	goals.set(1)

	require.Eventually(t, func() bool {
		return h.Snapshot().State == StateExecuting
	}, time.Second, 10*time.Millisecond)
}

func TestExecutingReturnsToRestingWhenGoalsDrain(t *testing.T) {
	goals := &fakeGoals{}
	orch := &fakeOrchestrator{}
	h, _ := newTestHub(t, Deps{Goals: goals, Orchestrator: orch})
	goals.set(1)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateExecuting }, time.Second, 10*time.Millisecond)
	assert.True(t, atomic.LoadInt32(&orch.calls) > 0)

	goals.set(0)
	require.Eventually(t, func() bool { return h.Snapshot().State == StateResting }, time.Second, 10*time.Millisecond)
}

func TestRestingTransitionsToImprovingOnExternalSignal(t *testing.T) {
	improvement := &fakeImprovement{}
	h, _ := newTestHub(t, Deps{Improvement: improvement})
	improvement.set(true)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateImproving }, time.Second, 10*time.Millisecond)
}

func TestImprovingMovesToContemplatingWhenCycleFindsNothing(t *testing.T) {
	improvement := &fakeImprovement{}
	cycles := map[State]Cycle{StateImproving: fakeCycle{findings: false}}
	h, _ := newTestHub(t, Deps{Improvement: improvement, Cycles: cycles})
	improvement.set(true)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateContemplating }, time.Second, 10*time.Millisecond)
}

func TestImprovingReturnsToRestingWhenCycleFindsSomething(t *testing.T) {
	improvement := &fakeImprovement{}
	cycles := map[State]Cycle{StateImproving: fakeCycle{findings: true}}
	h, _ := newTestHub(t, Deps{Improvement: improvement, Cycles: cycles})
	improvement.set(true)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateImproving }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.Snapshot().State == StateResting }, time.Second, 10*time.Millisecond)
}

func TestRestingTransitionsToHealingWhenCritical(t *testing.T) {
	health := &fakeHealth{}
	cycles := map[State]Cycle{StateHealing: fakeCycle{}}
	h, _ := newTestHub(t, Deps{Health: health, Cycles: cycles})
	health.set(true)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateHealing }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.Snapshot().State == StateResting }, time.Second, 10*time.Millisecond)
}

func TestHealingCooldownPreventsImmediateReentry(t *testing.T) {
	health := &fakeHealth{}
	cycles := map[State]Cycle{StateHealing: fakeCycle{}}
	h, cfg := newTestHub(t, Deps{Health: health, Cycles: cycles})
	cfg.SetHubHealing(2*time.Second, 10*time.Minute, 3)
	health.set(true)

	require.Eventually(t, func() bool { return h.Snapshot().State == StateHealing }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.Snapshot().State == StateResting }, time.Second, 10*time.Millisecond)

	health.set(true)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateResting, h.Snapshot().State)
}

func TestPauseSuppressesTransitions(t *testing.T) {
	goals := &fakeGoals{}
	h, _ := newTestHub(t, Deps{Goals: goals})
	h.Pause()
	goals.set(1)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateResting, h.Snapshot().State)
	assert.True(t, h.Snapshot().Paused)
}

func TestForceTransitionValidatesTable(t *testing.T) {
	h, _ := newTestHub(t, Deps{})
	err := h.ForceTransition(StateContemplating, "skip ahead")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = h.ForceTransition(StateExecuting, "operator override")
	require.NoError(t, err)
	assert.Equal(t, StateExecuting, h.Snapshot().State)
}

func TestStopFSMIsPauseThenResting(t *testing.T) {
	h, _ := newTestHub(t, Deps{})
	require.NoError(t, h.ForceTransition(StateExecuting, "test"))
	require.NoError(t, h.StopFSM("operator stop"))

	snap := h.Snapshot()
	assert.Equal(t, StateResting, snap.State)
	assert.True(t, snap.Paused)
}

func TestWatchdogForcesRestingAfterTimeout(t *testing.T) {
	h, cfg := newTestHub(t, Deps{})
	cfg.SetHubWatchdog(50 * time.Millisecond)
	require.NoError(t, h.ForceTransition(StateExecuting, "test"))

	require.Eventually(t, func() bool {
		return h.Snapshot().State == StateResting
	}, time.Second, 10*time.Millisecond)
}

func TestTransitionHistoryRecordsReasonAndCount(t *testing.T) {
	h, _ := newTestHub(t, Deps{})
	require.NoError(t, h.ForceTransition(StateExecuting, "manual"))

	snap := h.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, StateResting, snap.History[0].From)
	assert.Equal(t, StateExecuting, snap.History[0].To)
	assert.Equal(t, "manual", snap.History[0].Reason)
	assert.Equal(t, 1, snap.TransitionCount)
}
