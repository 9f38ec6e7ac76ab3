package goal

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

const tableName = "goals"

// Backlog is the durable CRUD + lifecycle store for goals (§4.8). It is
// the sole mutator of the goals table, mirroring how the Task Queue
// owns its own tables.
type Backlog struct {
	mu    sync.Mutex
	table *storage.Table
	bus   *events.Bus
	now   func() time.Time
}

// NewBacklog opens the durable goals table.
func NewBacklog(engine *storage.Engine, bus *events.Bus) (*Backlog, error) {
	table, err := engine.Open(tableName)
	if err != nil {
		return nil, fmt.Errorf("goal: open table: %w", err)
	}
	return &Backlog{table: table, bus: bus, now: time.Now}, nil
}

// Create durably records a new goal in StatusSubmitted.
func (b *Backlog) Create(params CreateParams) (*Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	g := &Goal{
		ID:              uuid.NewString(),
		Title:           params.Title,
		Description:     params.Description,
		Priority:        params.Priority,
		SuccessCriteria: params.SuccessCriteria,
		Metadata:        params.Metadata,
		Status:          StatusSubmitted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.persist(g); err != nil {
		return nil, err
	}
	b.bus.Publish(events.TopicGoalStatusChanged, g.ID)
	return g, nil
}

// Get looks up a goal by id.
func (b *Backlog) Get(id string) (*Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(id)
}

// List returns every goal matching filter; a zero-value filter matches
// everything. Results are ordered by descending priority, oldest-first
// within a priority band.
func (b *Backlog) List(filter Filter) ([]*Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Goal
	for _, raw := range b.table.Scan() {
		g, err := fromRecord(raw)
		if err != nil {
			continue
		}
		if filter.Status != "" && g.Status != filter.Status {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// PendingGoals counts goals still awaiting the Orchestrator's attention
// — anything not yet in a terminal status. Satisfies hubfsm.GoalSource
// so the Hub FSM can decide whether to enter executing without
// importing this package (§4.6/§4.8).
func (b *Backlog) PendingGoals() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int
	for _, raw := range b.table.Scan() {
		g, err := fromRecord(raw)
		if err != nil {
			continue
		}
		switch g.Status {
		case StatusComplete, StatusFailed, StatusCancelled:
		default:
			n++
		}
	}
	return n
}

// Delete permanently removes a goal record.
func (b *Backlog) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.table.Delete(id)
}

// Transition moves a goal to newStatus iff the move is listed in
// allowedTransitions for its current status; otherwise returns
// ErrInvalidTransition without mutating the record (§4.8).
func (b *Backlog) Transition(id string, newStatus Status, reason string) (*Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, err := b.load(id)
	if err != nil {
		return nil, err
	}
	if !isAllowed(g.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status, newStatus)
	}

	now := b.now()
	g.History = append(g.History, HistoryEntry{From: g.Status, To: newStatus, Reason: reason, Timestamp: now})
	g.Status = newStatus
	if newStatus == StatusFailed && reason != "" {
		g.FailReason = reason
	}
	g.UpdatedAt = now

	if err := b.persist(g); err != nil {
		return nil, err
	}
	b.bus.Publish(events.TopicGoalStatusChanged, g.ID)
	return g, nil
}

// AttachChildTasks records the task ids an Orchestrator decomposition
// produced for a goal, without otherwise changing its status.
func (b *Backlog) AttachChildTasks(id string, taskIDs []string) (*Goal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, err := b.load(id)
	if err != nil {
		return nil, err
	}
	g.ChildTaskIDs = append(g.ChildTaskIDs, taskIDs...)
	g.UpdatedAt = b.now()
	return g, b.persist(g)
}

func (b *Backlog) persist(g *Goal) error {
	rec, err := toRecord(g)
	if err != nil {
		return err
	}
	return b.table.Put(g.ID, rec)
}

func (b *Backlog) load(id string) (*Goal, error) {
	rec, ok, err := b.table.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return fromRecord(rec)
}

func isAllowed(from, to Status) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
