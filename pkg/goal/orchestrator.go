package goal

import (
	"strings"

	"github.com/notno/agentcom-hub/pkg/task"
)

// Decomposer splits a goal's description into the child tasks that
// implement it. Submit-time metadata beyond goal_id (which the
// Orchestrator always injects) is the decomposer's to set.
type Decomposer interface {
	Decompose(g *Goal) []task.SubmitParams
}

// LineDecomposer is the default Decomposer: each non-blank line of the
// goal's description becomes one standard-priority child task. A goal
// with no line breaks becomes a single child task for its whole
// description — this keeps a one-line goal from failing to decompose.
type LineDecomposer struct{}

func (LineDecomposer) Decompose(g *Goal) []task.SubmitParams {
	var lines []string
	for _, raw := range strings.Split(g.Description, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = []string{g.Description}
	}

	out := make([]task.SubmitParams, 0, len(lines))
	for _, line := range lines {
		out = append(out, task.SubmitParams{
			Description: line,
			Priority:    task.PriorityNormal,
			Metadata:    map[string]any{"goal_id": g.ID},
		})
	}
	return out
}

// Verifier runs a goal's success criteria once all its child tasks
// have completed. The Orchestrator holds one Verifier for every goal;
// NewOrchestrator uses AlwaysPass when given a nil one.
type Verifier interface {
	Verify(g *Goal) (ok bool, reason string)
}

// AlwaysPass is the default Verifier. It passes every goal and does not
// examine the goal's success criteria.
type AlwaysPass struct{}

func (AlwaysPass) Verify(g *Goal) (bool, string) { return true, "" }

// progressSource is the narrow slice of *task.Queue the Orchestrator
// needs; defined here (the consumer) rather than imported as a
// concrete type from task, matching the TaskReclaimer pattern in
// pkg/agent.
type progressSource interface {
	Submit(params task.SubmitParams) (*task.Task, error)
	GoalProgress(goalID string) (task.GoalProgress, error)
}

// Orchestrator decomposes submitted goals into queued tasks and
// advances executing goals toward verifying/complete/failed as their
// children finish (§4.8). Its RunCycle is called synchronously by the
// Hub FSM on each tick spent in executing, never on its own schedule.
type Orchestrator struct {
	backlog    *Backlog
	queue      progressSource
	decomposer Decomposer
	verifier   Verifier
}

// NewOrchestrator wires an Orchestrator. A nil decomposer/verifier
// defaults to LineDecomposer/AlwaysPass.
func NewOrchestrator(backlog *Backlog, queue progressSource, decomposer Decomposer, verifier Verifier) *Orchestrator {
	if decomposer == nil {
		decomposer = LineDecomposer{}
	}
	if verifier == nil {
		verifier = AlwaysPass{}
	}
	return &Orchestrator{backlog: backlog, queue: queue, decomposer: decomposer, verifier: verifier}
}

// RunCycle is invoked synchronously by the Hub FSM on every tick it
// spends in executing (§4.8) — unlike improving/contemplating/healing,
// executing has no separate asynchronous cycle task of its own. It
// advances at most one submitted goal into decomposition and
// re-evaluates every executing goal's progress.
func (o *Orchestrator) RunCycle() error {
	if err := o.decomposeNext(); err != nil {
		return err
	}
	return o.advanceExecuting()
}

func (o *Orchestrator) decomposeNext() error {
	submitted, err := o.backlog.List(Filter{Status: StatusSubmitted})
	if err != nil || len(submitted) == 0 {
		return err
	}
	g := submitted[0] // List already orders by descending priority

	g, err = o.backlog.Transition(g.ID, StatusDecomposing, "orchestrator picked up goal")
	if err != nil {
		return err
	}

	childParams := o.decomposer.Decompose(g)
	childIDs := make([]string, 0, len(childParams))
	for _, params := range childParams {
		if params.Metadata == nil {
			params.Metadata = map[string]any{}
		}
		params.Metadata["goal_id"] = g.ID
		child, err := o.queue.Submit(params)
		if err != nil {
			continue
		}
		childIDs = append(childIDs, child.ID)
	}

	if _, err := o.backlog.AttachChildTasks(g.ID, childIDs); err != nil {
		return err
	}
	_, err = o.backlog.Transition(g.ID, StatusExecuting, "child tasks submitted")
	return err
}

func (o *Orchestrator) advanceExecuting() error {
	executing, err := o.backlog.List(Filter{Status: StatusExecuting})
	if err != nil {
		return err
	}
	for _, g := range executing {
		progress, err := o.queue.GoalProgress(g.ID)
		if err != nil || progress.Total == 0 {
			continue
		}
		switch {
		case progress.Completed == progress.Total:
			if _, err := o.backlog.Transition(g.ID, StatusVerifying, "all child tasks completed"); err != nil {
				continue
			}
			o.finishVerification(g)
		case progress.Completed+progress.Failed == progress.Total:
			_, _ = o.backlog.Transition(g.ID, StatusFailed, "one or more child tasks dead-lettered")
		}
	}
	return nil
}

func (o *Orchestrator) finishVerification(g *Goal) {
	ok, reason := o.verifier.Verify(g)
	if ok {
		_, _ = o.backlog.Transition(g.ID, StatusComplete, reason)
		return
	}
	if reason == "" {
		reason = "success criteria not met"
	}
	_, _ = o.backlog.Transition(g.ID, StatusFailed, reason)
}
