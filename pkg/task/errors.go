package task

import "errors"

var (
	// ErrNotFound indicates no task exists with the given id, in either
	// the main or dead-letter table.
	ErrNotFound = errors.New("task: not found")

	// ErrInvalidState indicates the requested operation's precondition on
	// the task's current status was not met. Use StateError to recover
	// the offending status.
	ErrInvalidState = errors.New("task: invalid state")

	// ErrStaleGeneration indicates a completion/failure report's
	// generation does not match the task's current generation. The
	// caller must treat this as a silent drop, not a retry target —
	// mutating state on a stale generation would violate exactly-one
	// completion.
	ErrStaleGeneration = errors.New("task: stale generation")

	// ErrEmpty indicates DequeueNext found no queued tasks.
	ErrEmpty = errors.New("task: queue empty")

	// ErrNotAssigned indicates Reclaim was called on a task that isn't
	// currently assigned.
	ErrNotAssigned = errors.New("task: not assigned")
)

// StateError wraps ErrInvalidState with the status that failed a
// precondition check, so callers can report it (§7: "with the offending
// state attached").
type StateError struct {
	Status Status
}

func (e *StateError) Error() string {
	return "task: invalid state: " + string(e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
