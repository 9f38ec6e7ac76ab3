package goal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

func newTestBacklog(t *testing.T) *Backlog {
	t.Helper()
	cfg := config.New()
	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), events.NewBus(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	b, err := NewBacklog(engine, events.NewBus())
	require.NoError(t, err)
	return b
}

func TestCreateThenGetRoundTrips(t *testing.T) {
	b := newTestBacklog(t)
	g, err := b.Create(CreateParams{Title: "ship feature", Description: "step one\nstep two", Priority: 5})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, g.Status)

	got, err := b.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, "ship feature", got.Title)
}

func TestTransitionFollowsAllowedTable(t *testing.T) {
	b := newTestBacklog(t)
	g, err := b.Create(CreateParams{Title: "x"})
	require.NoError(t, err)

	got, err := b.Transition(g.ID, StatusDecomposing, "picked up")
	require.NoError(t, err)
	assert.Equal(t, StatusDecomposing, got.Status)
	require.Len(t, got.History, 1)
	assert.Equal(t, StatusSubmitted, got.History[0].From)
}

func TestTransitionRejectsSkippedState(t *testing.T) {
	b := newTestBacklog(t)
	g, err := b.Create(CreateParams{Title: "x"})
	require.NoError(t, err)

	_, err = b.Transition(g.ID, StatusComplete, "skip ahead")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := b.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
}

func TestListOrdersByPriorityThenAge(t *testing.T) {
	b := newTestBacklog(t)
	_, err := b.Create(CreateParams{Title: "low", Priority: 1})
	require.NoError(t, err)
	_, err = b.Create(CreateParams{Title: "high", Priority: 9})
	require.NoError(t, err)

	list, err := b.List(Filter{Status: StatusSubmitted})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "high", list[0].Title)
}

func TestAttachChildTasksAppends(t *testing.T) {
	b := newTestBacklog(t)
	g, err := b.Create(CreateParams{Title: "x"})
	require.NoError(t, err)

	got, err := b.AttachChildTasks(g.ID, []string{"t1", "t2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, got.ChildTaskIDs)
}

func TestPendingGoalsExcludesTerminalStatuses(t *testing.T) {
	b := newTestBacklog(t)
	pending, err := b.Create(CreateParams{Title: "pending"})
	require.NoError(t, err)
	done, err := b.Create(CreateParams{Title: "done"})
	require.NoError(t, err)
	_, err = b.Transition(done.ID, StatusCancelled, "not needed")
	require.NoError(t, err)

	assert.Equal(t, 1, b.PendingGoals())
	_ = pending
}

func TestDeleteRemovesGoal(t *testing.T) {
	b := newTestBacklog(t)
	g, err := b.Create(CreateParams{Title: "x"})
	require.NoError(t, err)

	require.NoError(t, b.Delete(g.ID))
	_, err = b.Get(g.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
