// Package config provides runtime-tunable configuration for the hub.
//
// Unlike a load-once-at-startup settings object, the values here back
// timers and thresholds that operators are expected to retune without a
// restart (§4.4 and §6 of the spec). Every accessor reads the live
// snapshot — callers must never cache a returned duration or cap beyond
// the scope of a single operation.
package config

import (
	"sync/atomic"
	"time"
)

// values holds one atomically-swapped snapshot of every tunable.
// Updates replace the whole struct so readers never observe a partially
// applied write.
type values struct {
	HeartbeatInterval        time.Duration
	AgentTTL                 time.Duration
	TaskTTL                  time.Duration
	FallbackWait             time.Duration
	TierDownAlertThreshold   time.Duration
	CompactionInterval       time.Duration
	CompactionThreshold      float64
	DefaultOllamaModel       string
	AcceptanceTimeout        time.Duration
	OverdueSweepInterval     time.Duration
	ProbeInterval            time.Duration
	BudgetHourly             map[string]int64
	BudgetDaily              map[string]int64
	HubWatchdog              time.Duration
	HubHealingCooldown       time.Duration
	HubHealingWindow         time.Duration
	HubHealingMaxAttempts    int
	RetentionWindow          time.Duration
	CleanupInterval          time.Duration
}

func defaults() *values {
	return &values{
		HeartbeatInterval:      30 * time.Second,
		AgentTTL:               60 * time.Second,
		TaskTTL:                10 * time.Minute,
		FallbackWait:           5 * time.Second,
		TierDownAlertThreshold: 60 * time.Second,
		CompactionInterval:     6 * time.Hour,
		CompactionThreshold:    0.10,
		DefaultOllamaModel:     "qwen2.5-coder:14b",
		AcceptanceTimeout:      30 * time.Second,
		OverdueSweepInterval:   60 * time.Second,
		ProbeInterval:          30 * time.Second,
		BudgetHourly: map[string]int64{
			"executing":     200,
			"improving":     50,
			"contemplating": 50,
		},
		BudgetDaily: map[string]int64{
			"executing":     2000,
			"improving":     500,
			"contemplating": 500,
		},
		HubWatchdog:           2 * time.Hour,
		HubHealingCooldown:    5 * time.Minute,
		HubHealingWindow:      10 * time.Minute,
		HubHealingMaxAttempts: 3,
		RetentionWindow:       30 * 24 * time.Hour,
		CleanupInterval:       1 * time.Hour,
	}
}

// Runtime is the hot-reloadable configuration store. Zero value is not
// usable; construct with New.
type Runtime struct {
	snapshot atomic.Pointer[values]
}

// New returns a Runtime seeded with built-in defaults.
func New() *Runtime {
	r := &Runtime{}
	r.snapshot.Store(defaults())
	return r
}

func (r *Runtime) get() *values {
	return r.snapshot.Load()
}

// Update applies fn to a copy of the current snapshot and swaps it in
// atomically. fn may mutate any subset of fields.
func (r *Runtime) Update(fn func(*values)) {
	cur := *r.get()
	fn(&cur)
	r.snapshot.Store(&cur)
}

func (r *Runtime) HeartbeatInterval() time.Duration      { return r.get().HeartbeatInterval }
func (r *Runtime) AgentTTL() time.Duration                { return r.get().AgentTTL }
func (r *Runtime) TaskTTL() time.Duration                 { return r.get().TaskTTL }
func (r *Runtime) FallbackWait() time.Duration            { return r.get().FallbackWait }
func (r *Runtime) TierDownAlertThreshold() time.Duration  { return r.get().TierDownAlertThreshold }
func (r *Runtime) CompactionInterval() time.Duration      { return r.get().CompactionInterval }
func (r *Runtime) CompactionThreshold() float64           { return r.get().CompactionThreshold }
func (r *Runtime) DefaultOllamaModel() string             { return r.get().DefaultOllamaModel }
func (r *Runtime) AcceptanceTimeout() time.Duration       { return r.get().AcceptanceTimeout }
func (r *Runtime) OverdueSweepInterval() time.Duration    { return r.get().OverdueSweepInterval }
func (r *Runtime) ProbeInterval() time.Duration           { return r.get().ProbeInterval }
func (r *Runtime) HubWatchdog() time.Duration             { return r.get().HubWatchdog }
func (r *Runtime) HubHealingCooldown() time.Duration      { return r.get().HubHealingCooldown }
func (r *Runtime) HubHealingWindow() time.Duration        { return r.get().HubHealingWindow }
func (r *Runtime) HubHealingMaxAttempts() int             { return r.get().HubHealingMaxAttempts }
func (r *Runtime) RetentionWindow() time.Duration         { return r.get().RetentionWindow }
func (r *Runtime) CleanupInterval() time.Duration         { return r.get().CleanupInterval }

// BudgetHourly returns the configured hourly cap for category, or 0 if unset.
func (r *Runtime) BudgetHourly(category string) int64 {
	return r.get().BudgetHourly[category]
}

// BudgetDaily returns the configured daily cap for category, or 0 if unset.
func (r *Runtime) BudgetDaily(category string) int64 {
	return r.get().BudgetDaily[category]
}

// SetBudget updates the hourly/daily caps for a single category.
func (r *Runtime) SetBudget(category string, hourly, daily int64) {
	r.Update(func(v *values) {
		v.BudgetHourly = cloneBudget(v.BudgetHourly)
		v.BudgetDaily = cloneBudget(v.BudgetDaily)
		v.BudgetHourly[category] = hourly
		v.BudgetDaily[category] = daily
	})
}

func cloneBudget(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetFallbackWait updates the router's fallback timer duration.
func (r *Runtime) SetFallbackWait(d time.Duration) {
	r.Update(func(v *values) { v.FallbackWait = d })
}

// SetTaskTTL updates the queued-task expiry threshold.
func (r *Runtime) SetTaskTTL(d time.Duration) {
	r.Update(func(v *values) { v.TaskTTL = d })
}

// SetTierDownAlertThreshold updates the minimum duration before a
// tier-down alert fires.
func (r *Runtime) SetTierDownAlertThreshold(d time.Duration) {
	r.Update(func(v *values) { v.TierDownAlertThreshold = d })
}

// SetDefaultOllamaModel updates the model name used by standard-tier
// candidate filtering.
func (r *Runtime) SetDefaultOllamaModel(model string) {
	r.Update(func(v *values) { v.DefaultOllamaModel = model })
}

// SetCompaction updates the compaction interval and fragmentation
// threshold together.
func (r *Runtime) SetCompaction(interval time.Duration, threshold float64) {
	r.Update(func(v *values) {
		v.CompactionInterval = interval
		v.CompactionThreshold = threshold
	})
}

// SetAcceptanceTimeout updates how long a pushed task waits for agent
// acceptance before the state machine reclaims it.
func (r *Runtime) SetAcceptanceTimeout(d time.Duration) {
	r.Update(func(v *values) { v.AcceptanceTimeout = d })
}

// SetProbeInterval updates the Endpoint Registry's health-probe cadence.
func (r *Runtime) SetProbeInterval(d time.Duration) {
	r.Update(func(v *values) { v.ProbeInterval = d })
}

// SetOverdueSweepInterval updates the Task Queue's overdue-deadline
// sweep cadence.
func (r *Runtime) SetOverdueSweepInterval(d time.Duration) {
	r.Update(func(v *values) { v.OverdueSweepInterval = d })
}

// SetHubWatchdog updates the Hub FSM's forced-resting watchdog timeout.
func (r *Runtime) SetHubWatchdog(d time.Duration) {
	r.Update(func(v *values) { v.HubWatchdog = d })
}

// SetHubHealing updates the healing cooldown window, the lookback
// window used to rate-limit healing attempts, and the max attempts
// allowed within that window, together.
func (r *Runtime) SetHubHealing(cooldown, window time.Duration, maxAttempts int) {
	r.Update(func(v *values) {
		v.HubHealingCooldown = cooldown
		v.HubHealingWindow = window
		v.HubHealingMaxAttempts = maxAttempts
	})
}

// SetRetention updates how long completed/dead-lettered task history
// and stale ledger records are kept before the cleanup service prunes
// them, and how often it sweeps.
func (r *Runtime) SetRetention(window, interval time.Duration) {
	r.Update(func(v *values) {
		v.RetentionWindow = window
		v.CleanupInterval = interval
	})
}
