// Package api provides the HTTP and WebSocket surface for the hub (§6):
// task/agent/goal/hub REST endpoints, the agent session WebSocket
// protocol, and the dashboard push channel.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/dashboard"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/router"
	"github.com/notno/agentcom-hub/pkg/task"
	"github.com/notno/agentcom-hub/pkg/version"
)

// Server is the hub's HTTP API server, built on gin the way
// cmd/tarsy/main.go wires its router (this module's only echo-free
// HTTP stack — see DESIGN.md on why pkg/api doesn't follow the
// teacher's pkg/api/server.go directly).
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Runtime
	bus        *events.Bus

	tasks     *task.Queue
	agents    *agent.Registry
	endpoints *endpoint.Registry
	scheduler *router.Scheduler
	goals     *goal.Backlog
	hub       *hubfsm.Hub
	snapshots *dashboard.Snapshotter // nil until SetSnapshotter

	upgrader *agentUpgrader
}

// NewServer wires the always-required collaborators and registers
// every route. Optional collaborators (the dashboard snapshotter) are
// attached afterward via their Set* method, matching the teacher's
// setter-injection pattern for services not yet ready at construction
// time.
func NewServer(cfg *config.Runtime, bus *events.Bus, tasks *task.Queue, agents *agent.Registry, endpoints *endpoint.Registry, scheduler *router.Scheduler, goals *goal.Backlog, hub *hubfsm.Hub) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:    engine,
		cfg:       cfg,
		bus:       bus,
		tasks:     tasks,
		agents:    agents,
		endpoints: endpoints,
		scheduler: scheduler,
		goals:     goals,
		hub:       hub,
	}
	s.upgrader = newAgentUpgrader(agents, tasks, endpoints)
	s.setupRoutes()
	return s
}

// SetSnapshotter wires the dashboard state aggregator. Until called,
// GET /api/dashboard/state and /ws/dashboard return 503 — the same
// "not available yet" contract the teacher's wsHandler uses for a nil
// connManager.
func (s *Server) SetSnapshotter(snap *dashboard.Snapshotter) {
	s.snapshots = snap
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api")

	tasks := v1.Group("/tasks")
	tasks.POST("", s.submitTaskHandler)
	tasks.GET("", s.listTasksHandler)
	tasks.GET("/stats", s.taskStatsHandler)
	tasks.GET("/dead-letter", s.listDeadLetterHandler)
	tasks.GET("/:id", s.getTaskHandler)
	tasks.POST("/:id/retry", s.retryDeadLetterHandler)

	agents := v1.Group("/agents")
	agents.GET("", s.listAgentsHandler)
	agents.GET("/states", s.agentStatesHandler)
	agents.GET("/:id", s.getAgentHandler)
	agents.GET("/:id/state", s.getAgentStateHandler)

	endpoints := v1.Group("/endpoints")
	endpoints.POST("", s.registerEndpointHandler)
	endpoints.GET("", s.listEndpointsHandler)
	endpoints.GET("/:id", s.getEndpointHandler)
	endpoints.DELETE("/:id", s.deregisterEndpointHandler)
	endpoints.POST("/:id/resources", s.postEndpointResourcesHandler)

	goals := v1.Group("/goals")
	goals.POST("", s.submitGoalHandler)
	goals.GET("", s.listGoalsHandler)
	goals.GET("/:id", s.getGoalHandler)
	goals.PATCH("/:id", s.transitionGoalHandler)
	goals.POST("/:id/cancel", s.cancelGoalHandler)

	hub := v1.Group("/hub")
	hub.GET("/state", s.hubStateHandler)
	hub.GET("/history", s.hubHistoryHandler)
	hub.POST("/pause", s.hubPauseHandler)
	hub.POST("/resume", s.hubResumeHandler)
	hub.POST("/start", s.hubResumeHandler)
	hub.POST("/stop", s.hubStopHandler)
	hub.POST("/force-transition", s.hubForceTransitionHandler)

	v1.GET("/dashboard/state", s.dashboardStateHandler)

	s.engine.GET("/ws", s.agentSessionHandler)
	s.engine.GET("/ws/dashboard", s.dashboardWSHandler)
}

// Start runs the HTTP server on addr; blocks until it exits.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// StartWithListener runs the HTTP server on a pre-created listener, for
// tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) healthHandler(c *gin.Context) {
	_, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, healthResponse{Status: "healthy", Version: version.Full()})
}
