// Package goal implements the Goal Backlog & Orchestrator (§4.8): a
// durable backlog of higher-order goals, a validated status lifecycle,
// and the decomposition step that turns one goal into queued tasks.
package goal

import "time"

// Status is a goal's position in its lifecycle (§4.8).
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusDecomposing Status = "decomposing"
	StatusExecuting   Status = "executing"
	StatusVerifying   Status = "verifying"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// allowedTransitions is the per-status table validating transition().
// Any status not listed here is terminal.
var allowedTransitions = map[Status][]Status{
	StatusSubmitted:   {StatusDecomposing, StatusCancelled},
	StatusDecomposing: {StatusExecuting, StatusFailed},
	StatusExecuting:   {StatusVerifying, StatusFailed, StatusCancelled},
	StatusVerifying:   {StatusComplete, StatusFailed},
}

// HistoryEntry records one transition for audit/dashboard display.
type HistoryEntry struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Goal is a durable higher-order objective the Orchestrator decomposes
// into child tasks (§4.8).
type Goal struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Priority        int            `json:"priority"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	Status       Status   `json:"status"`
	ChildTaskIDs []string `json:"child_task_ids,omitempty"`
	FailReason   string   `json:"fail_reason,omitempty"`

	History []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateParams are the caller-supplied fields for Create.
type CreateParams struct {
	Title           string
	Description     string
	Priority        int
	SuccessCriteria []string
	Metadata        map[string]any
}

// Filter narrows List() results; zero-value fields are wildcards.
type Filter struct {
	Status Status
}
