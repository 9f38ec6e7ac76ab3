package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/ledger"
	"github.com/notno/agentcom-hub/pkg/router"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

type reclaimerAdapter struct{ q *task.Queue }

func (r reclaimerAdapter) Reclaim(taskID string) error {
	_, err := r.q.Reclaim(taskID)
	return err
}

func newTestSnapshotter(t *testing.T) *Snapshotter {
	t.Helper()
	bus := events.NewBus()
	cfg := config.New()
	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), bus, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	queue, err := task.NewQueue(engine, bus)
	require.NoError(t, err)
	agents := agent.NewRegistry(bus, cfg, reclaimerAdapter{q: queue}, time.Minute)
	endpoints, err := endpoint.NewRegistry(engine, bus)
	require.NoError(t, err)
	sched := router.New(queue, agents, endpoints, cfg, bus, router.AllowAll{})
	led, err := ledger.New(engine, bus, cfg)
	require.NoError(t, err)
	hub := hubfsm.New(bus, cfg, time.Hour, hubfsm.Deps{})
	backlog, err := goal.NewBacklog(engine, bus)
	require.NoError(t, err)

	taskTable, err := engine.Open("tasks")
	require.NoError(t, err)

	return New(map[string]*storage.Table{"tasks": taskTable}, queue, agents, endpoints, sched, led, hub, backlog)
}

func TestCollectAggregatesEveryComponent(t *testing.T) {
	s := newTestSnapshotter(t)
	snap := s.Collect()

	require.Contains(t, snap.StorageHealth, "tasks")
	require.NotZero(t, snap.CollectedAt)
	require.Equal(t, hubfsm.StateResting, snap.Hub.State)
	require.Empty(t, snap.Goals)
	require.Empty(t, snap.Agents)
}

func TestCollectReflectsSubmittedTaskAndGoal(t *testing.T) {
	s := newTestSnapshotter(t)
	_, err := s.tasks.Submit(task.SubmitParams{Description: "do a thing"})
	require.NoError(t, err)
	_, err = s.goals.Create(goal.CreateParams{Title: "ship it", Description: "step one"})
	require.NoError(t, err)

	snap := s.Collect()
	require.Equal(t, 1, snap.TaskStats.ByStatus[task.StatusQueued])
	require.Len(t, snap.Goals, 1)
}
