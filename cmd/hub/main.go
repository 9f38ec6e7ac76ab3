// AgentCom Hub server - coordinates a fleet of autonomous coding agents
// over a durable task queue, presence registry, and tier-aware router.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/api"
	"github.com/notno/agentcom-hub/pkg/cleanup"
	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/dashboard"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/goal"
	"github.com/notno/agentcom-hub/pkg/hubfsm"
	"github.com/notno/agentcom-hub/pkg/ledger"
	"github.com/notno/agentcom-hub/pkg/router"
	"github.com/notno/agentcom-hub/pkg/storage"
	"github.com/notno/agentcom-hub/pkg/task"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// taskReclaimAdapter narrows *task.Queue to agent.TaskReclaimer so the
// agent package never imports pkg/task.
type taskReclaimAdapter struct{ queue *task.Queue }

func (a taskReclaimAdapter) Reclaim(taskID string) error {
	_, err := a.queue.Reclaim(taskID)
	return err
}

// budgetAdapter narrows *ledger.Ledger to hubfsm.BudgetChecker.
type budgetAdapter struct{ ledger *ledger.Ledger }

func (a budgetAdapter) Available(category string) bool {
	ok, err := a.ledger.CheckBudget(ledger.Category(category))
	if err != nil {
		slog.Warn("main: budget check failed, treating as unavailable", "category", category, "error", err)
		return false
	}
	return ok
}

// storageHealthChecker narrows a table map to hubfsm.HealthChecker: any
// table reporting degraded health is a critical condition warranting
// the Hub FSM's healing state.
type storageHealthChecker struct{ tables map[string]*storage.Table }

func (c storageHealthChecker) Critical() bool {
	for _, t := range c.tables {
		if t.Health().Status == storage.StatusDegraded {
			return true
		}
	}
	return false
}

func main() {
	dataDir := flag.String("data-dir", getEnv("DATA_DIR", "./data"), "Path to durable storage directory")
	backupDir := flag.String("backup-dir", getEnv("BACKUP_DIR", "./backups"), "Path to backup directory")
	envFile := flag.String("env-file", getEnv("ENV_FILE", "./.env"), "Path to .env file")
	httpAddr := flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v", *envFile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.New()
	bus := events.NewBus()

	engine, err := storage.NewEngine(filepath.Clean(*dataDir), filepath.Clean(*backupDir), bus, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("storage: close: %v", err)
		}
	}()

	tasks, err := task.NewQueue(engine, bus)
	if err != nil {
		log.Fatalf("task queue: %v", err)
	}

	agents := agent.NewRegistry(bus, cfg, taskReclaimAdapter{queue: tasks}, cfg.AgentTTL())

	// Cold-start recovery: every task still marked assigned belongs to an
	// agent that hasn't reconnected yet, since the registry above starts
	// empty (§4.3's orphan sweep, run here instead of waiting on the
	// first liveness sweep).
	if n := tasks.ReclaimOrphans(agents.PresentIDs()); n > 0 {
		slog.Info("main: reclaimed orphaned tasks at startup", "count", n)
	}

	endpoints, err := endpoint.NewRegistry(engine, bus)
	if err != nil {
		log.Fatalf("endpoint registry: %v", err)
	}
	prober := endpoint.NewProber(endpoints, &endpoint.GRPCChecker{}, cfg)

	scheduler := router.New(tasks, agents, endpoints, cfg, bus, router.AllowAll{})

	led, err := ledger.New(engine, bus, cfg)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}

	backlog, err := goal.NewBacklog(engine, bus)
	if err != nil {
		log.Fatalf("goal backlog: %v", err)
	}
	orchestrator := goal.NewOrchestrator(backlog, tasks, nil, nil)

	tasksTable, err := engine.Open("tasks")
	if err != nil {
		log.Fatalf("tasks table: %v", err)
	}
	endpointsTable, err := engine.Open("endpoints")
	if err != nil {
		log.Fatalf("endpoints table: %v", err)
	}
	goalsTable, err := engine.Open("goals")
	if err != nil {
		log.Fatalf("goals table: %v", err)
	}
	ledgerTable, err := engine.Open("ledger")
	if err != nil {
		log.Fatalf("ledger table: %v", err)
	}
	tables := map[string]*storage.Table{
		"tasks":     tasksTable,
		"endpoints": endpointsTable,
		"goals":     goalsTable,
		"ledger":    ledgerTable,
	}

	hub := hubfsm.New(bus, cfg, time.Second, hubfsm.Deps{
		Goals:        backlog,
		Budget:       budgetAdapter{ledger: led},
		Health:       storageHealthChecker{tables: tables},
		Orchestrator: orchestrator,
	})

	snapshotter := dashboard.New(tables, tasks, agents, endpoints, scheduler, led, hub, backlog)
	retention := cleanup.New(tasks, led, cfg)

	server := api.NewServer(cfg, bus, tasks, agents, endpoints, scheduler, backlog, hub)
	server.SetSnapshotter(snapshotter)

	engine.StartSchedulers(ctx, 24*time.Hour)
	prober.Start(ctx)
	scheduler.Start(ctx)
	hub.Start(ctx)
	retention.Start(ctx)
	go runLivenessSweep(ctx, agents, cfg)

	go func() {
		slog.Info("main: listening", "addr", *httpAddr)
		if err := server.Start(*httpAddr); err != nil {
			slog.Error("main: http server exited", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("main: http shutdown", "error", err)
	}

	hub.Stop()
	scheduler.Stop()
	prober.Stop()
	retention.Stop()
}

// runLivenessSweep evicts agents whose last heartbeat exceeds the
// configured TTL, at half the TTL interval per §4.2.
func runLivenessSweep(ctx context.Context, agents *agent.Registry, cfg *config.Runtime) {
	ticker := time.NewTicker(cfg.AgentTTL() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := agents.SweepStaleLiveness(cfg.AgentTTL()); len(evicted) > 0 {
				slog.Info("main: evicted stale agents", "count", len(evicted), "ids", evicted)
			}
		}
	}
}
