package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/dashboard"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/router"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

type testReclaimer struct{ q *task.Queue }

func (r testReclaimer) Reclaim(taskID string) error {
	_, err := r.q.Reclaim(taskID)
	return err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := events.NewBus()
	cfg := config.New()
	engine, err := storage.NewEngine(t.TempDir(), t.TempDir(), bus, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	tasks, err := task.NewQueue(engine, bus)
	require.NoError(t, err)
	agents := agent.NewRegistry(bus, cfg, testReclaimer{q: tasks}, time.Minute)
	endpoints, err := endpoint.NewRegistry(engine, bus)
	require.NoError(t, err)
	sched := router.New(tasks, agents, endpoints, cfg, bus, router.AllowAll{})
	goals, err := goal.NewBacklog(engine, bus)
	require.NoError(t, err)
	hub := hubfsm.New(bus, cfg, time.Hour, hubfsm.Deps{})

	s := NewServer(cfg, bus, tasks, agents, endpoints, sched, goals, hub)

	tasksTable, err := engine.Open("tasks")
	require.NoError(t, err)
	s.SetSnapshotter(dashboard.New(map[string]*storage.Table{"tasks": tasksTable}, tasks, agents, endpoints, sched, nil, hub, goals))
	return s
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandlerReturnsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitThenGetTaskRoundTrips(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/tasks", submitTaskRequest{Description: "fix the bug"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(s, http.MethodGet, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetMissingTaskReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAgentsStartsEmpty(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSubmitThenGetGoalRoundTrips(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/goals", submitGoalRequest{Title: "ship", Description: "do it"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created goal.Goal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doRequest(s, http.MethodGet, "/api/goals/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHubStateReflectsInitialRestingState(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/hub/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap hubfsm.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, hubfsm.StateResting, snap.State)
}

func TestHubForceTransitionRejectsInvalidEdge(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/hub/force-transition", forceTransitionRequest{State: hubfsm.StateContemplating})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDashboardStateAggregatesTaskStats(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/api/tasks", submitTaskRequest{Description: "do it"})

	rec := doRequest(s, http.MethodGet, "/api/dashboard/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap dashboard.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.TaskStats.ByStatus[task.StatusQueued])
}
