package goal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *Backlog, *task.Queue) {
	t.Helper()
	bus := events.NewBus()
	cfg := config.New()
	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), bus, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	backlog, err := NewBacklog(engine, bus)
	require.NoError(t, err)
	queue, err := task.NewQueue(engine, bus)
	require.NoError(t, err)

	o := NewOrchestrator(backlog, queue, nil, nil)
	return o, backlog, queue
}

func TestRunCycleDecomposesSubmittedGoalIntoChildTasks(t *testing.T) {
	o, backlog, queue := newTestOrchestrator(t)
	g, err := backlog.Create(CreateParams{Title: "ship it", Description: "write the code\nwrite the tests", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, o.RunCycle())

	got, err := backlog.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
	assert.Len(t, got.ChildTaskIDs, 2)

	for _, id := range got.ChildTaskIDs {
		child, err := queue.Get(id)
		require.NoError(t, err)
		gid, _ := child.Metadata["goal_id"].(string)
		assert.Equal(t, g.ID, gid)
	}
}

func TestRunCycleAdvancesToCompleteOnceChildrenFinish(t *testing.T) {
	o, backlog, queue := newTestOrchestrator(t)
	g, err := backlog.Create(CreateParams{Title: "ship it", Description: "only step"})
	require.NoError(t, err)

	require.NoError(t, o.RunCycle())
	got, err := backlog.Get(g.ID)
	require.NoError(t, err)
	require.Len(t, got.ChildTaskIDs, 1)

	childID := got.ChildTaskIDs[0]
	assigned, err := queue.Assign(childID, "agent-1", task.AssignOpts{})
	require.NoError(t, err)
	_, err = queue.Complete(childID, assigned.Generation, task.CompleteParams{})
	require.NoError(t, err)

	require.NoError(t, o.RunCycle())
	got, err = backlog.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, got.Status)
}

func TestRunCycleFailsGoalWhenChildDeadLetters(t *testing.T) {
	o, backlog, queue := newTestOrchestrator(t)
	g, err := backlog.Create(CreateParams{Title: "ship it", Description: "only step"})
	require.NoError(t, err)

	require.NoError(t, o.RunCycle())
	got, err := backlog.Get(g.ID)
	require.NoError(t, err)
	childID := got.ChildTaskIDs[0]

	child, err := queue.Get(childID)
	require.NoError(t, err)
	for i := 0; i <= child.MaxRetries; i++ {
		assigned, err := queue.Assign(childID, "agent-1", task.AssignOpts{})
		require.NoError(t, err)
		_, err = queue.Fail(childID, assigned.Generation, "boom")
		require.NoError(t, err)
	}

	require.NoError(t, o.RunCycle())
	got, err = backlog.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestRunCycleWithNoSubmittedGoalsIsANoop(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.RunCycle())
}
