package goal

import "errors"

var (
	// ErrNotFound is returned when a goal id has no backing record.
	ErrNotFound = errors.New("goal: not found")
	// ErrInvalidTransition is returned by Transition when the requested
	// new status is not reachable from the goal's current status.
	ErrInvalidTransition = errors.New("goal: invalid transition")
)
