// Package ledger implements the Cost Ledger (§4.7): durable
// append-only invocation history plus rolling hourly/daily/session
// counters and a budget check used by the Hub FSM to decide whether it
// may keep spending in a category.
package ledger

import "time"

// Category is the kind of Hub-level work an invocation paid for,
// mirroring the Hub FSM's non-resting states (§4.6).
type Category string

const (
	CategoryExecuting     Category = "executing"
	CategoryImproving     Category = "improving"
	CategoryContemplating Category = "contemplating"
)

// InvocationRecord is one durably-appended ledger entry (§3).
type InvocationRecord struct {
	ID         string    `json:"id"`
	Category   Category  `json:"category"`
	Tokens     int64     `json:"tokens,omitempty"`
	Cost       float64   `json:"cost,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WindowCounts is the aggregate for one rolling window.
type WindowCounts struct {
	Count  int64   `json:"count"`
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Stats is the ledger's full read model (§4.7's stats()).
type Stats struct {
	Hourly       map[Category]WindowCounts `json:"hourly"`
	Daily        map[Category]WindowCounts `json:"daily"`
	Session      map[Category]WindowCounts `json:"session"`
	BudgetHourly map[Category]int64        `json:"budget_hourly"`
	BudgetDaily  map[Category]int64        `json:"budget_daily"`
}

// RecordParams are the caller-supplied fields for Record.
type RecordParams struct {
	Category Category
	Tokens   int64
	Cost     float64
}
