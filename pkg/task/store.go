package task

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

const (
	mainTableName       = "tasks"
	deadLetterTableName = "tasks_dead_letter"
	defaultMaxRetries   = 3
)

// Queue is the single logical owner of the task and dead-letter tables
// (§4.3). Every mutation serializes through mu to preserve the
// generation-fencing and priority-index invariants; no method may call
// back into another singleton while holding it (§5).
type Queue struct {
	mu         sync.Mutex
	main       *storage.Table
	deadLetter *storage.Table
	index      *priorityIndex
	bus        *events.Bus
	now        func() time.Time
}

// NewQueue opens the task queue's tables and rebuilds the in-memory
// priority index from whatever was durably queued before this process
// started (crash recovery, §4.3).
func NewQueue(engine *storage.Engine, bus *events.Bus) (*Queue, error) {
	main, err := engine.Open(mainTableName)
	if err != nil {
		return nil, fmt.Errorf("task: open main table: %w", err)
	}
	dl, err := engine.Open(deadLetterTableName)
	if err != nil {
		return nil, fmt.Errorf("task: open dead-letter table: %w", err)
	}

	q := &Queue{main: main, deadLetter: dl, index: newPriorityIndex(), bus: bus, now: time.Now}
	q.rebuildIndex()
	return q, nil
}

func (q *Queue) rebuildIndex() {
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			slog.Error("task: skipping undecodable record during index rebuild", "error", err)
			continue
		}
		if t.Status == StatusQueued {
			q.index.Insert(t.ID, t.Priority, t.CreatedAt)
		}
	}
}

// ReclaimOrphans reclaims every assigned task whose owning agent is not
// in stillPresent, on the assumption the agent did not survive a hub
// restart to reconnect in time (§4.3's startup-recovery note,
// operationalized per SPEC_FULL.md's supplemented orphan sweep).
func (q *Queue) ReclaimOrphans(stillPresent map[string]bool) (reclaimed int) {
	var ids []string
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if t.Status == StatusAssigned && !stillPresent[t.AssignedTo] {
			ids = append(ids, t.ID)
		}
	}
	for _, id := range ids {
		if _, err := q.Reclaim(id); err == nil {
			reclaimed++
		}
	}
	return reclaimed
}

func (q *Queue) persist(t *Task) error {
	rec, err := toRecord(t)
	if err != nil {
		return err
	}
	if t.Status == StatusDeadLetter {
		if err := q.deadLetter.Put(t.ID, rec); err != nil {
			return err
		}
		return q.main.Delete(t.ID)
	}
	return q.main.Put(t.ID, rec)
}

func (q *Queue) load(id string) (*Task, error) {
	if rec, ok, err := q.main.Get(id); err != nil {
		return nil, err
	} else if ok {
		return fromRecord(rec)
	}
	if rec, ok, err := q.deadLetter.Get(id); err != nil {
		return nil, err
	} else if ok {
		return fromRecord(rec)
	}
	return nil, ErrNotFound
}

// Submit creates a new queued task and returns it.
func (q *Queue) Submit(params SubmitParams) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	t := &Task{
		ID:                 uuid.NewString(),
		Description:        params.Description,
		Priority:           params.Priority,
		NeededCapabilities: params.NeededCapabilities,
		Metadata:           params.Metadata,
		MaxRetries:         maxRetries,
		CompleteBy:         params.CompleteBy,
		Status:             StatusQueued,
		Generation:         0,
		Complexity:         params.Complexity,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	t.appendHistory(string(StatusQueued), "submitted", now)

	if err := q.persist(t); err != nil {
		return nil, err
	}
	q.index.Insert(t.ID, t.Priority, t.CreatedAt)
	q.bus.Publish(events.TopicTaskSubmitted, t.ID)
	return t, nil
}

// Get looks up a task by id, searching the main table then dead-letter.
func (q *Queue) Get(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(id)
}

// List returns every task matching filter. Dead-letter tasks are only
// returned when filter.Status == StatusDeadLetter (they are excluded
// from unfiltered/other-status listings, per §9's Open Question
// resolution: dead_letter is a separate count/listing, not folded into
// general status queries).
func (q *Queue) List(filter Filter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if filter.Status == StatusDeadLetter {
		return q.listDeadLetterLocked(filter)
	}

	var out []*Task
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if matchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (q *Queue) listDeadLetterLocked(filter Filter) ([]*Task, error) {
	var out []*Task
	for _, rec := range q.deadLetter.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if matchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return out, nil
}

func matchesFilter(t *Task, f Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != nil && t.Priority != *f.Priority {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	return true
}

// ListDeadLetter returns every dead-lettered task.
func (q *Queue) ListDeadLetter() ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.listDeadLetterLocked(Filter{})
}

// Stats returns counts grouped by status and priority, plus the
// dead-letter count kept separate per §9.
func (q *Queue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{ByStatus: make(map[Status]int), ByPriority: make(map[Priority]int)}
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		s.ByStatus[t.Status]++
		s.ByPriority[t.Priority]++
	}
	for range q.deadLetter.Scan() {
		s.DeadLetter++
	}
	return s, nil
}

// DequeueNext returns the highest-priority queued task without
// assigning it — assignment is a separate, explicit Assign call so the
// scheduler can match it against a specific agent/endpoint first.
func (q *Queue) DequeueNext() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.index.Pop()
	if !ok {
		return nil, ErrEmpty
	}
	t, err := q.load(id)
	if err != nil {
		return nil, err
	}
	// Put it back — Pop here is a peek with side effects undone; real
	// removal from the index happens in Assign (or in Expire, when a
	// queued task is dead-lettered by the TTL sweep).
	q.index.Insert(id, t.Priority, t.CreatedAt)
	return t, nil
}

// Assign transitions a queued task to assigned, bumping its generation.
func (q *Queue) Assign(taskID, agentID string, opts AssignOpts) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.load(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusQueued {
		return nil, &StateError{Status: t.Status}
	}

	now := q.now()
	t.Status = StatusAssigned
	t.Generation++
	t.AssignedTo = agentID
	t.AssignedAt = &now
	if opts.CompleteBy != nil {
		t.CompleteBy = opts.CompleteBy
	}
	if opts.RoutingDecision != nil {
		t.RoutingDecision = opts.RoutingDecision
	}
	t.appendHistory(string(StatusAssigned), "agent="+agentID, now)

	if err := q.persist(t); err != nil {
		return nil, err
	}
	q.index.Remove(taskID)
	q.bus.Publish(events.TopicTaskAssigned, t.ID)
	return t, nil
}

// Complete transitions assigned→completed iff generation matches the
// task's current generation. A mismatch is reported as
// ErrStaleGeneration and performs no mutation whatsoever — the central
// safety property of §4.3.
func (q *Queue) Complete(taskID string, generation int, params CompleteParams) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.load(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusAssigned {
		return nil, &StateError{Status: t.Status}
	}
	if t.Generation != generation {
		q.bus.Publish(events.TopicStaleGeneration, StaleGenerationEvent{TaskID: taskID, Got: generation, Current: t.Generation})
		return nil, ErrStaleGeneration
	}

	now := q.now()
	t.Status = StatusCompleted
	t.Result = params.Result
	t.TokensUsed = params.TokensUsed
	t.appendHistory(string(StatusCompleted), "", now)

	if err := q.persist(t); err != nil {
		return nil, err
	}
	q.bus.Publish(events.TopicTaskCompleted, t.ID)
	return t, nil
}

// FailOutcome tells the caller whether Fail retried or dead-lettered
// the task.
type FailOutcome struct {
	Retried    bool
	DeadLetter bool
	Task       *Task
}

// Fail records an agent-reported failure. If generation matches and
// retries remain, the task is requeued with a bumped generation;
// otherwise it moves to the dead-letter table.
func (q *Queue) Fail(taskID string, generation int, errMsg string) (FailOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.load(taskID)
	if err != nil {
		return FailOutcome{}, err
	}
	if t.Status != StatusAssigned {
		return FailOutcome{}, &StateError{Status: t.Status}
	}
	if t.Generation != generation {
		q.bus.Publish(events.TopicStaleGeneration, StaleGenerationEvent{TaskID: taskID, Got: generation, Current: t.Generation})
		return FailOutcome{}, ErrStaleGeneration
	}

	now := q.now()
	t.LastError = errMsg

	if t.RetryCount < t.MaxRetries {
		t.Status = StatusQueued
		t.RetryCount++
		t.Generation++
		t.AssignedTo = ""
		t.AssignedAt = nil
		t.appendHistory(string(StatusQueued), "retry after: "+errMsg, now)

		if err := q.persist(t); err != nil {
			return FailOutcome{}, err
		}
		q.index.Insert(t.ID, t.Priority, t.CreatedAt)
		q.bus.Publish(events.TopicTaskRetried, t.ID)
		return FailOutcome{Retried: true, Task: t}, nil
	}

	t.Status = StatusDeadLetter
	t.appendHistory(string(StatusDeadLetter), "retries exhausted: "+errMsg, now)
	if err := q.persist(t); err != nil {
		return FailOutcome{}, err
	}
	q.bus.Publish(events.TopicTaskDeadLetter, t.ID)
	return FailOutcome{DeadLetter: true, Task: t}, nil
}

// Reclaim moves an assigned task back to queued with a bumped
// generation, fencing off any in-flight reply under the old generation.
// Used on agent disconnect, acceptance timeout, and overdue sweep.
func (q *Queue) Reclaim(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.load(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusAssigned {
		return nil, ErrNotAssigned
	}

	now := q.now()
	t.Status = StatusQueued
	t.Generation++
	t.AssignedTo = ""
	t.AssignedAt = nil
	t.appendHistory(string(StatusQueued), "reclaimed", now)

	if err := q.persist(t); err != nil {
		return nil, err
	}
	q.index.Insert(t.ID, t.Priority, t.CreatedAt)
	q.bus.Publish(events.TopicTaskReclaimed, t.ID)
	return t, nil
}

// RetryDeadLetter moves a dead-lettered task back to queued with retry
// count reset, per explicit admin action (§3).
func (q *Queue) RetryDeadLetter(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok, err := q.deadLetter.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	t, err := fromRecord(rec)
	if err != nil {
		return nil, err
	}

	now := q.now()
	t.Status = StatusQueued
	t.RetryCount = 0
	t.Generation++
	t.LastError = ""
	t.appendHistory(string(StatusQueued), "retried from dead-letter", now)

	if err := q.main.Put(t.ID, mustRecord(t)); err != nil {
		return nil, err
	}
	if err := q.deadLetter.Delete(t.ID); err != nil {
		return nil, err
	}
	q.index.Insert(t.ID, t.Priority, t.CreatedAt)
	q.bus.Publish(events.TopicTaskRetried, t.ID)
	return t, nil
}

func mustRecord(t *Task) map[string]any {
	rec, _ := toRecord(t)
	return rec
}

// Expire moves a queued task to dead-letter with last_error set to
// "ttl_expired" (§4.3's TTL sweep terminal action).
func (q *Queue) Expire(taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.load(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusQueued {
		return nil, &StateError{Status: t.Status}
	}

	now := q.now()
	t.Status = StatusDeadLetter
	t.LastError = "ttl_expired"
	t.appendHistory(string(StatusDeadLetter), "ttl_expired", now)

	if err := q.persist(t); err != nil {
		return nil, err
	}
	q.index.Remove(taskID)
	q.bus.Publish(events.TopicTaskDeadLetter, t.ID)
	return t, nil
}

// GoalProgress counts tasks tagged with goal_id in metadata.
func (q *Queue) GoalProgress(goalID string) (GoalProgress, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var p GoalProgress
	check := func(t *Task) {
		gid, _ := t.Metadata["goal_id"].(string)
		if gid != goalID {
			return
		}
		p.Total++
		switch t.Status {
		case StatusCompleted:
			p.Completed++
		case StatusDeadLetter:
			p.Failed++
		}
	}
	for _, rec := range q.main.Scan() {
		if t, err := fromRecord(rec); err == nil {
			check(t)
		}
	}
	for _, rec := range q.deadLetter.Scan() {
		if t, err := fromRecord(rec); err == nil {
			check(t)
		}
	}
	return p, nil
}

// SweepOverdue reclaims every assigned task whose deadline has passed.
// Intended to run on a ~60s ticker (§4.3).
func (q *Queue) SweepOverdue() (reclaimed []string) {
	q.mu.Lock()
	var overdue []string
	now := q.now()
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if t.Status == StatusAssigned && t.CompleteBy != nil && t.CompleteBy.Before(now) {
			overdue = append(overdue, t.ID)
		}
	}
	q.mu.Unlock()

	for _, id := range overdue {
		if _, err := q.Reclaim(id); err == nil {
			reclaimed = append(reclaimed, id)
		}
	}
	return reclaimed
}

// SweepTTL expires every queued, non-trivial task older than ttl.
// Trivial tasks are exempt (§4.3: "they can always execute locally").
func (q *Queue) SweepTTL(ttl time.Duration) (expired []string) {
	q.mu.Lock()
	var candidates []string
	now := q.now()
	for _, rec := range q.main.Scan() {
		t, err := fromRecord(rec)
		if err != nil {
			continue
		}
		if t.Status != StatusQueued {
			continue
		}
		if t.Complexity.EffectiveTier == TierTrivial {
			continue
		}
		if now.Sub(t.CreatedAt) >= ttl {
			candidates = append(candidates, t.ID)
		}
	}
	q.mu.Unlock()

	for _, id := range candidates {
		if _, err := q.Expire(id); err == nil {
			expired = append(expired, id)
		}
	}
	return expired
}

// PruneHistory truncates the audit trail on completed and dead-lettered
// tasks last touched before cutoff, down to their most recent entry.
// History is informational only (never consulted to decide a
// transition), so this never changes a task's status or generation —
// storage hygiene for long-lived queues, not a lifecycle operation.
func (q *Queue) PruneHistory(cutoff time.Time) (pruned int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prune := func(table *storage.Table) {
		var ids []string
		for id, rec := range table.Scan() {
			t, err := fromRecord(rec)
			if err != nil {
				continue
			}
			if t.UpdatedAt.Before(cutoff) && len(t.History) > 1 {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			rec, ok, err := table.Get(id)
			if err != nil || !ok {
				continue
			}
			t, err := fromRecord(rec)
			if err != nil {
				continue
			}
			t.History = t.History[len(t.History)-1:]
			if err := q.persist(t); err == nil {
				pruned++
			}
		}
	}
	prune(q.main)
	prune(q.deadLetter)
	return pruned
}

// QueuedInPriorityOrder returns every currently queued task in dequeue
// order (urgent first, FIFO within a priority band) without removing
// anything from the index — the Scheduler's per-round read (§4.4).
func (q *Queue) QueuedInPriorityOrder() ([]*Task, error) {
	q.mu.Lock()
	ids := q.index.Snapshot()
	q.mu.Unlock()

	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := q.Get(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// IndexLen returns the number of tasks currently tracked as queued by
// the priority index — exposed for the §8 invariant test ("every queued
// task appears in the priority index exactly once").
func (q *Queue) IndexLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index.Len()
}

// StaleGenerationEvent is published on events.TopicStaleGeneration —
// telemetry only, never consumed to drive state (§7).
type StaleGenerationEvent struct {
	TaskID  string
	Got     int
	Current int
}
