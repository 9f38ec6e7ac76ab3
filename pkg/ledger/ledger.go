package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notno/agentcom-hub/pkg/config"
	"github.com/notno/agentcom-hub/pkg/events"
	"github.com/notno/agentcom-hub/pkg/storage"
)

const tableName = "ledger"

// Ledger is the single owner of the durable invocation-history table.
// Rolling-window counts are computed by scanning history at query time
// rather than maintained as separate incrementally-decayed counters —
// this is what "recomputed from the history log... by replaying entries
// within the rolling windows" (§4.7) means taken literally, and it
// sidesteps ever needing to age an in-memory counter back down.
type Ledger struct {
	table     *storage.Table
	bus       *events.Bus
	cfg       *config.Runtime
	startedAt time.Time
	now       func() time.Time
}

// New opens the durable table. startedAt anchors the session window.
func New(engine *storage.Engine, bus *events.Bus, cfg *config.Runtime) (*Ledger, error) {
	table, err := engine.Open(tableName)
	if err != nil {
		return nil, fmt.Errorf("ledger: open table: %w", err)
	}
	return &Ledger{table: table, bus: bus, cfg: cfg, startedAt: time.Now(), now: time.Now}, nil
}

// Record durably appends one invocation and returns it (§4.7).
func (l *Ledger) Record(params RecordParams) (*InvocationRecord, error) {
	rec := &InvocationRecord{
		ID:         uuid.NewString(),
		Category:   params.Category,
		Tokens:     params.Tokens,
		Cost:       params.Cost,
		OccurredAt: l.now(),
	}
	value, err := toRecord(rec)
	if err != nil {
		return nil, err
	}
	if err := l.table.Put(rec.ID, value); err != nil {
		return nil, err
	}

	if ok, err := l.CheckBudget(rec.Category); err == nil && !ok {
		l.bus.Publish(events.TopicBudgetExhausted, rec.Category)
	}
	return rec, nil
}

// Stats returns the full rolling-window read model (§4.7).
func (l *Ledger) Stats() (Stats, error) {
	now := l.now()
	hourCutoff := now.Add(-time.Hour)
	dayCutoff := now.Add(-24 * time.Hour)

	stats := Stats{
		Hourly:       make(map[Category]WindowCounts),
		Daily:        make(map[Category]WindowCounts),
		Session:      make(map[Category]WindowCounts),
		BudgetHourly: make(map[Category]int64),
		BudgetDaily:  make(map[Category]int64),
	}

	for _, cat := range allCategories {
		stats.BudgetHourly[cat] = l.cfg.BudgetHourly(string(cat))
		stats.BudgetDaily[cat] = l.cfg.BudgetDaily(string(cat))
	}

	for _, raw := range l.table.Scan() {
		rec, err := fromRecord(raw)
		if err != nil {
			continue
		}
		if rec.OccurredAt.After(hourCutoff) {
			accumulate(stats.Hourly, rec)
		}
		if rec.OccurredAt.After(dayCutoff) {
			accumulate(stats.Daily, rec)
		}
		if rec.OccurredAt.After(l.startedAt) || rec.OccurredAt.Equal(l.startedAt) {
			accumulate(stats.Session, rec)
		}
	}
	return stats, nil
}

var allCategories = []Category{CategoryExecuting, CategoryImproving, CategoryContemplating}

func accumulate(m map[Category]WindowCounts, rec *InvocationRecord) {
	c := m[rec.Category]
	c.Count++
	c.Tokens += rec.Tokens
	c.Cost += rec.Cost
	m[rec.Category] = c
}

// CheckBudget reports whether category may still spend: both its
// hourly and daily counts must be strictly below their configured caps
// (§4.7). A zero-valued cap is treated as "no limit configured" rather
// than "always exhausted".
func (l *Ledger) CheckBudget(category Category) (bool, error) {
	stats, err := l.Stats()
	if err != nil {
		return false, err
	}
	hourlyCap := stats.BudgetHourly[category]
	dailyCap := stats.BudgetDaily[category]

	if hourlyCap > 0 && stats.Hourly[category].Count >= hourlyCap {
		return false, nil
	}
	if dailyCap > 0 && stats.Daily[category].Count >= dailyCap {
		return false, nil
	}
	return true, nil
}

// PruneBefore deletes invocation records older than cutoff. Pruned
// records drop out of Stats immediately afterward since Stats is
// always recomputed from whatever remains in the table.
func (l *Ledger) PruneBefore(cutoff time.Time) (pruned int) {
	var ids []string
	for id, raw := range l.table.Scan() {
		rec, err := fromRecord(raw)
		if err != nil {
			continue
		}
		if rec.OccurredAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if err := l.table.Delete(id); err == nil {
			pruned++
		}
	}
	return pruned
}

func toRecord(r *InvocationRecord) (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode record: %w", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ledger: encode record: %w", err)
	}
	return rec, nil
}

func fromRecord(rec map[string]any) (*InvocationRecord, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("ledger: decode record: %w", err)
	}
	var r InvocationRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("ledger: decode record: %w", err)
	}
	return &r, nil
}
