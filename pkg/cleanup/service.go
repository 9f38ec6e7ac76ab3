// Package cleanup provides data retention and cleanup services.
//
// It runs the periodic retention sweep: pruning history entries on
// long-settled tasks and stale cost-ledger records past a configurable
// window. This is ambient storage hygiene, not an analytics feature.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/notno/agentcom-hub/pkg/config"
)

// TaskPruner narrows *task.Queue to what the cleanup sweep needs.
type TaskPruner interface {
	PruneHistory(cutoff time.Time) int
}

// LedgerPruner narrows *ledger.Ledger likewise.
type LedgerPruner interface {
	PruneBefore(cutoff time.Time) int
}

// Service periodically enforces retention policy:
//   - truncates history on long-settled tasks past RetentionWindow
//   - deletes ledger invocation records past RetentionWindow
//
// Both sweeps are idempotent and safe to run repeatedly.
type Service struct {
	tasks  TaskPruner
	ledger LedgerPruner
	cfg    *config.Runtime
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a retention sweep over tasks and ledger. Either may be nil
// to skip that half of the sweep (useful in tests that only care about
// one side).
func New(tasks TaskPruner, ledger LedgerPruner, cfg *config.Runtime) *Service {
	return &Service{tasks: tasks, ledger: ledger, cfg: cfg, now: time.Now}
}

// Start launches the background cleanup loop, running one sweep
// immediately before settling into the ticker interval.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup: started", "retention", s.cfg.RetentionWindow(), "interval", s.cfg.CleanupInterval())
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup: stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce()

	interval := s.cfg.CleanupInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
			if next := s.cfg.CleanupInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// RunOnce performs a single sweep immediately, outside the ticker loop.
func (s *Service) RunOnce() {
	cutoff := s.now().Add(-s.cfg.RetentionWindow())

	if s.tasks != nil {
		if n := s.tasks.PruneHistory(cutoff); n > 0 {
			slog.Info("cleanup: pruned task history", "count", n)
		}
	}
	if s.ledger != nil {
		if n := s.ledger.PruneBefore(cutoff); n > 0 {
			slog.Info("cleanup: pruned ledger records", "count", n)
		}
	}
}
