package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

type testHarness struct {
	queue     *task.Queue
	agents    *agent.Registry
	endpoints *endpoint.Registry
	cfg       *config.Runtime
	bus       *events.Bus
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	bus := events.NewBus()
	cfg := config.New()

	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), bus, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	queue, err := task.NewQueue(engine, bus)
	require.NoError(t, err)

	endpoints, err := endpoint.NewRegistry(engine, bus)
	require.NoError(t, err)

	agents := agent.NewRegistry(bus, cfg, reclaimerAdapter{queue}, 2*time.Second)

	return &testHarness{queue: queue, agents: agents, endpoints: endpoints, cfg: cfg, bus: bus}
}

type reclaimerAdapter struct{ q *task.Queue }

func (r reclaimerAdapter) Reclaim(taskID string) error {
	_, err := r.q.Reclaim(taskID)
	return err
}

type fakeSession struct{}

func (fakeSession) Push(msg any) error { return nil }
func (fakeSession) Close() error       { return nil }

func TestTrySchedulePicksUpSidecarTrivialTask(t *testing.T) {
	h := newHarness(t)
	h.agents.Identify(agent.IdentifyParams{ID: "a1", Capabilities: []agent.Capability{{Name: "code"}}, Session: fakeSession{}})

	submitted, err := h.queue.Submit(task.SubmitParams{Description: "trivial work", Priority: task.PriorityNormal, Complexity: task.Complexity{EffectiveTier: task.TierTrivial}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	sched.TrySchedule()

	got, err := h.queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusAssigned, got.Status)
	assert.Equal(t, "a1", got.AssignedTo)
}

func TestTryScheduleLeavesTaskQueuedWhenNoCandidates(t *testing.T) {
	h := newHarness(t)
	submitted, err := h.queue.Submit(task.SubmitParams{Description: "standard work", Priority: task.PriorityNormal, Complexity: task.Complexity{EffectiveTier: task.TierStandard}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	sched.TrySchedule()

	got, err := h.queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

func TestFallbackTimerEscalatesStandardToComplex(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetFallbackWait(50 * time.Millisecond)
	h.agents.Identify(agent.IdentifyParams{ID: "cloud-agent", CloudAPICapable: true, Session: fakeSession{}})

	submitted, err := h.queue.Submit(task.SubmitParams{Description: "standard work", Priority: task.PriorityNormal, Complexity: task.Complexity{EffectiveTier: task.TierStandard}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	sched.TrySchedule()

	got, err := h.queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)

	require.Eventually(t, func() bool {
		got, err := h.queue.Get(submitted.ID)
		return err == nil && got.Status == task.StatusAssigned
	}, 2*time.Second, 20*time.Millisecond)

	got, _ = h.queue.Get(submitted.ID)
	assert.True(t, got.RoutingDecision.FallbackUsed)
	assert.Equal(t, task.TierStandard, got.RoutingDecision.FallbackFromTier)
	assert.Equal(t, task.TierComplex, got.RoutingDecision.EffectiveTier)
}

func TestCancelFallbackRemovesPendingEntryAndSuppressesTheRetry(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetFallbackWait(80 * time.Millisecond)

	submitted, err := h.queue.Submit(task.SubmitParams{Description: "standard work", Priority: task.PriorityNormal, Complexity: task.Complexity{EffectiveTier: task.TierStandard}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	sched.TrySchedule()
	assert.Equal(t, 1, sched.HealthSnapshot().PendingFallbacks)

	sched.cancelFallback(submitted.ID)
	assert.Equal(t, 0, sched.HealthSnapshot().PendingFallbacks)

	// Even once a cloud_api-capable agent appears, the cancelled timer
	// must never fire a forced-tier retry of its own accord.
	h.agents.Identify(agent.IdentifyParams{ID: "cloud-agent", CloudAPICapable: true, Session: fakeSession{}})
	time.Sleep(200 * time.Millisecond)

	got, err := h.queue.Get(submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, got.Status)
}

// TestSchedulerStartReactsToAgentJoinedEvent drives the real Identify
// path with no manual bus.Publish — Identify itself only ever publishes
// agent_joined (never agent_idle), so Start must subscribe to
// agent_joined too for a newly-connected agent to pick up
// already-queued work.
func TestSchedulerStartReactsToAgentJoinedEvent(t *testing.T) {
	h := newHarness(t)
	submitted, err := h.queue.Submit(task.SubmitParams{Description: "trivial work", Priority: task.PriorityNormal, Complexity: task.Complexity{EffectiveTier: task.TierTrivial}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	h.agents.Identify(agent.IdentifyParams{ID: "a1", Session: fakeSession{}})

	require.Eventually(t, func() bool {
		got, err := h.queue.Get(submitted.ID)
		return err == nil && got.Status == task.StatusAssigned
	}, 2*time.Second, 20*time.Millisecond)
}

// TestSchedulerStartReactsToTaskRetriedEvent covers the other gap
// flagged in review: a stale-completion report reclaiming a task (or
// an ordinary failure retry) must trigger a fresh scheduling round even
// when no agent_idle/agent_joined fires around it — the retried task
// itself is the trigger (§4.4).
func TestSchedulerStartReactsToTaskRetriedEvent(t *testing.T) {
	h := newHarness(t)
	h.agents.Identify(agent.IdentifyParams{ID: "a1", Session: fakeSession{}})

	submitted, err := h.queue.Submit(task.SubmitParams{Description: "trivial work", Priority: task.PriorityNormal, MaxRetries: 3, Complexity: task.Complexity{EffectiveTier: task.TierTrivial}})
	require.NoError(t, err)

	sched := New(h.queue, h.agents, h.endpoints, h.cfg, h.bus, nil)
	sched.TrySchedule()

	assigned, err := h.queue.Get(submitted.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusAssigned, assigned.Status)

	_, err = h.queue.Fail(assigned.ID, assigned.Generation, "boom")
	require.NoError(t, err)
	require.NoError(t, h.agents.TaskFailed("a1", assigned.ID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool {
		got, err := h.queue.Get(submitted.ID)
		return err == nil && got.Status == task.StatusAssigned && got.RetryCount == 1
	}, 2*time.Second, 20*time.Millisecond)
}
