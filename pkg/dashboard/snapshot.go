// Package dashboard implements the read-only Dashboard State Snapshotter
// (§6): a single aggregation point that pulls the current state of every
// other component into one JSON-able struct, the way cmd/tarsy/main.go's
// /health handler folds several services' status into one gin.H before
// this module had a dedicated package for it.
package dashboard

import (
	"sort"
	"time"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/ledger"
	"github.com/notno/agentcom-hub/pkg/router"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

// Snapshot is the full point-in-time view exposed at GET
// /api/dashboard/state and pushed over /ws/dashboard.
type Snapshot struct {
	CollectedAt     time.Time                 `json:"collected_at"`
	StorageHealth   map[string]storage.Health `json:"storage_health"`
	TaskStats       task.Stats                `json:"task_stats"`
	Agents          []agent.Agent             `json:"agents"`
	Endpoints       []endpoint.StatusSnapshot `json:"endpoints"`
	SchedulerHealth router.Health             `json:"scheduler_health"`
	LedgerStats     ledger.Stats              `json:"ledger_stats"`
	Hub             hubfsm.Snapshot           `json:"hub"`
	Goals           []*goal.Goal              `json:"goals"`
}

// Snapshotter owns read-only handles to every component with state
// worth surfacing on the dashboard. It never mutates anything it holds.
type Snapshotter struct {
	tables    map[string]*storage.Table
	tasks     *task.Queue
	agents    *agent.Registry
	endpoints *endpoint.Registry
	scheduler *router.Scheduler
	ledger    *ledger.Ledger
	hub       *hubfsm.Hub
	goals     *goal.Backlog
}

// New wires a Snapshotter. tables names the tables to report storage
// health for (typically every table the Engine hosts).
func New(tables map[string]*storage.Table, tasks *task.Queue, agents *agent.Registry, endpoints *endpoint.Registry, scheduler *router.Scheduler, led *ledger.Ledger, hub *hubfsm.Hub, goals *goal.Backlog) *Snapshotter {
	return &Snapshotter{
		tables:    tables,
		tasks:     tasks,
		agents:    agents,
		endpoints: endpoints,
		scheduler: scheduler,
		ledger:    led,
		hub:       hub,
		goals:     goals,
	}
}

// Collect assembles a fresh Snapshot. Best-effort: a failing component
// is reported as a zero-value rather than failing the whole snapshot,
// since a dashboard that can't reach the ledger shouldn't also hide the
// task queue.
func (s *Snapshotter) Collect() Snapshot {
	snap := Snapshot{
		CollectedAt:   time.Now(),
		StorageHealth: make(map[string]storage.Health, len(s.tables)),
	}

	for name, t := range s.tables {
		snap.StorageHealth[name] = t.Health()
	}

	if s.tasks != nil {
		if stats, err := s.tasks.Stats(); err == nil {
			snap.TaskStats = stats
		}
	}

	if s.agents != nil {
		snap.Agents = s.agents.List()
		sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	}

	if s.endpoints != nil {
		if eps, err := s.endpoints.List(""); err == nil {
			snap.Endpoints = eps
		}
	}

	if s.scheduler != nil {
		snap.SchedulerHealth = s.scheduler.HealthSnapshot()
	}

	if s.ledger != nil {
		if stats, err := s.ledger.Stats(); err == nil {
			snap.LedgerStats = stats
		}
	}

	if s.hub != nil {
		snap.Hub = s.hub.Snapshot()
	}

	if s.goals != nil {
		if goals, err := s.goals.List(goal.Filter{}); err == nil {
			snap.Goals = goals
		}
	}

	return snap
}
