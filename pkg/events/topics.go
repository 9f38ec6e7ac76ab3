package events

// Topic names published on the Bus. Every cross-component trigger named
// in §4.4 of the spec has a constant here; component packages publish
// their payloads (a task id string, or a struct type that the publishing
// package defines) under these topics.
const (
	// Task lifecycle
	TopicTaskSubmitted   = "task_submitted"
	TopicTaskAssigned    = "task_assigned"
	TopicTaskCompleted   = "task_completed"
	TopicTaskRetried     = "task_retried"
	TopicTaskDeadLetter  = "task_dead_letter"
	TopicTaskReclaimed   = "task_reclaimed"
	TopicStaleGeneration = "stale_generation"

	// Agent presence / FSM
	TopicAgentJoined       = "agent_joined"
	TopicAgentLeft         = "agent_left"
	TopicAgentIdle         = "agent_idle"
	TopicAgentStatusChange = "status_changed"

	// Endpoint registry
	TopicEndpointChanged = "endpoint_changed"

	// Storage engine
	TopicTableCorrupted   = "table_corrupted"
	TopicRecoveryComplete = "recovery_complete"
	TopicRecoveryFailed   = "recovery_failed"

	// Hub FSM / goals / ledger
	TopicHubStateChanged = "hub_state_changed"
	TopicGoalStatusChanged = "goal_status_changed"
	TopicCycleComplete     = "cycle_complete"
	TopicBudgetExhausted   = "budget_exhausted"
)
