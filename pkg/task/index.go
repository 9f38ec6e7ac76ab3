package task

import (
	"container/heap"
	"sort"
	"time"
)

// priorityEntry is one (task_id, priority, created_at) tuple held in the
// index while a task is queued.
type priorityEntry struct {
	taskID    string
	priority  Priority
	createdAt time.Time
	heapIndex int
}

// priorityHeap orders entries by (priority ascending, created_at
// ascending) — urgent-first, FIFO within a priority band, per §4.3.
type priorityHeap []*priorityEntry

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *priorityHeap) Push(x any) {
	e := x.(*priorityEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// priorityIndex is the queued-task lookup structure: O(log n) insert,
// O(log n) pop-minimum, O(1) membership check, O(log n) removal by id
// (used when a queued task leaves the queue by something other than a
// Pop: Queue.Assign and Queue.Expire both call Remove).
type priorityIndex struct {
	h       priorityHeap
	byID    map[string]*priorityEntry
}

func newPriorityIndex() *priorityIndex {
	return &priorityIndex{byID: make(map[string]*priorityEntry)}
}

// Insert adds taskID to the index. It is the caller's responsibility to
// never insert the same id twice without an intervening Pop/Remove —
// the invariant in §8 ("every queued task appears in the index exactly
// once") is enforced by the Queue's own state machine, not here.
func (idx *priorityIndex) Insert(taskID string, priority Priority, createdAt time.Time) {
	e := &priorityEntry{taskID: taskID, priority: priority, createdAt: createdAt}
	idx.byID[taskID] = e
	heap.Push(&idx.h, e)
}

// Pop removes and returns the highest-priority task id, or ("", false)
// if the index is empty.
func (idx *priorityIndex) Pop() (string, bool) {
	if idx.h.Len() == 0 {
		return "", false
	}
	e := heap.Pop(&idx.h).(*priorityEntry)
	delete(idx.byID, e.taskID)
	return e.taskID, true
}

// Remove drops taskID from the index if present.
func (idx *priorityIndex) Remove(taskID string) {
	e, ok := idx.byID[taskID]
	if !ok {
		return
	}
	heap.Remove(&idx.h, e.heapIndex)
	delete(idx.byID, taskID)
}

// Contains reports whether taskID is currently indexed as queued.
func (idx *priorityIndex) Contains(taskID string) bool {
	_, ok := idx.byID[taskID]
	return ok
}

// Len returns the number of queued tasks tracked.
func (idx *priorityIndex) Len() int {
	return len(idx.byID)
}

// Snapshot returns queued task ids in dequeue order without mutating
// the index — used by the scheduler's per-round read (§4.4). It sorts a
// copy of the entry values rather than reusing idx.h's heap machinery,
// since popping from a shared-pointer copy would mutate the live
// entries' heapIndex out from under idx.h.
func (idx *priorityIndex) Snapshot() []string {
	entries := make([]priorityEntry, len(idx.h))
	for i, e := range idx.h {
		entries[i] = *e
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.taskID
	}
	return out
}
