package agent

import "errors"

var (
	// ErrNotFound indicates no agent is registered with the given id.
	ErrNotFound = errors.New("agent: not found")

	// ErrInvalidState indicates the requested transition's precondition
	// on the agent's current state was not met.
	ErrInvalidState = errors.New("agent: invalid state")

	// ErrGenerationMismatch indicates an acceptance/completion message
	// carried a generation that does not match the agent's currently
	// pushed task.
	ErrGenerationMismatch = errors.New("agent: generation mismatch")

	// ErrNoCapacity indicates PushTask was called on an agent not idle.
	ErrNoCapacity = errors.New("agent: not idle")
)
