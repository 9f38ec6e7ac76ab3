// Package task implements the durable task queue (§4.3): submission,
// priority-ordered dequeue, the assign/complete/fail lifecycle, retry
// and dead-lettering, and the generation-fencing invariant that makes
// at-least-once delivery safe to pair with exactly-one completion.
package task

import "time"

// Status is a task's position in its lifecycle (§3). The source mixes
// "completed" and "complete" across call sites; this module normalizes
// on Completed everywhere (see DESIGN.md's Open Questions).
type Status string

const (
	StatusQueued     Status = "queued"
	StatusAssigned   Status = "assigned"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter"
)

// Priority ranks urgency; lower value dequeues first.
type Priority int

const (
	PriorityUrgent Priority = 0
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// Tier is the complexity classifier's output (§4.4.1's routing input).
type Tier string

const (
	TierTrivial  Tier = "trivial"
	TierStandard Tier = "standard"
	TierComplex  Tier = "complex"
	TierUnknown  Tier = "unknown"
)

// TargetType is the execution surface a RoutingDecision points at.
type TargetType string

const (
	TargetSidecar  TargetType = "sidecar"
	TargetOllama   TargetType = "ollama"
	TargetCloudAPI TargetType = "cloud_api"
)

// Complexity is the classifier's cached verdict, attached at submit time.
type Complexity struct {
	EffectiveTier Tier   `json:"effective_tier"`
	Reason        string `json:"reason"`
}

// RoutingDecision is captured once at assignment and never mutated
// afterward (§3).
type RoutingDecision struct {
	EffectiveTier     Tier       `json:"effective_tier"`
	TargetType        TargetType `json:"target_type"`
	SelectedEndpoint  string     `json:"selected_endpoint,omitempty"`
	SelectedModel     string     `json:"selected_model,omitempty"`
	FallbackUsed      bool       `json:"fallback_used"`
	FallbackFromTier  Tier       `json:"fallback_from_tier,omitempty"`
	FallbackReason    string     `json:"fallback_reason,omitempty"`
	CandidateCount    int        `json:"candidate_count"`
	ClassificationReason string  `json:"classification_reason"`
	DecidedAt         time.Time  `json:"decided_at"`
}

// HistoryEntry is one append-only audit-trail record. History is
// informational only — it is never consulted to decide a transition.
type HistoryEntry struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Details   string         `json:"details,omitempty"`
}

// Task is the unit of dispatchable work (§3).
type Task struct {
	ID                 string         `json:"id"`
	Description        string         `json:"description"`
	Priority           Priority       `json:"priority"`
	NeededCapabilities []string       `json:"needed_capabilities,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	MaxRetries         int            `json:"max_retries"`
	CompleteBy         *time.Time     `json:"complete_by,omitempty"`

	Status      Status         `json:"status"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time     `json:"assigned_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	TokensUsed  int            `json:"tokens_used"`

	Generation int `json:"generation"`

	RoutingDecision *RoutingDecision `json:"routing_decision,omitempty"`
	Complexity      Complexity       `json:"complexity"`

	History []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PushTaskPayload is the wire shape delivered to an agent over /ws's
// push_task message (§6): task_id rather than id, and nothing of the
// queue's internal bookkeeping the agent has no use for.
type PushTaskPayload struct {
	TaskID      string         `json:"task_id"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Priority    Priority       `json:"priority"`
	Generation  int            `json:"generation"`
	CompleteBy  *time.Time     `json:"complete_by,omitempty"`
}

// PushPayload builds the push_task wire payload for this task.
func (t *Task) PushPayload() PushTaskPayload {
	return PushTaskPayload{
		TaskID:      t.ID,
		Description: t.Description,
		Metadata:    t.Metadata,
		Priority:    t.Priority,
		Generation:  t.Generation,
		CompleteBy:  t.CompleteBy,
	}
}

func (t *Task) appendHistory(event, details string, now time.Time) {
	t.History = append(t.History, HistoryEntry{Event: event, Timestamp: now, Details: details})
	t.UpdatedAt = now
}

// SubmitParams are the caller-supplied fields for Submit.
type SubmitParams struct {
	Description        string
	Priority           Priority
	NeededCapabilities []string
	Metadata           map[string]any
	MaxRetries         int // 0 means "use the default of 3"
	CompleteBy         *time.Time
	Complexity         Complexity
}

// AssignOpts carries the scheduler's routing decision through to Assign.
type AssignOpts struct {
	CompleteBy      *time.Time
	RoutingDecision *RoutingDecision
}

// CompleteParams carries an agent's success report.
type CompleteParams struct {
	Result     map[string]any
	TokensUsed int
}

// Filter narrows List() results; zero-value fields are wildcards.
type Filter struct {
	Status     Status
	Priority   *Priority
	AssignedTo string
}

// Stats groups task counts by status and priority (§4.3).
type Stats struct {
	ByStatus     map[Status]int
	ByPriority   map[Priority]int
	DeadLetter   int
}

// GoalProgress summarizes task outcomes for one goal (§4.3's
// goal_progress operation).
type GoalProgress struct {
	Total     int
	Completed int
	Failed    int
}
