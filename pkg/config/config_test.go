package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasSaneDefaults(t *testing.T) {
	r := New()
	assert.Equal(t, 10*time.Minute, r.TaskTTL())
	assert.Equal(t, 5*time.Second, r.FallbackWait())
	assert.Equal(t, 0.10, r.CompactionThreshold())
}

func TestSetFallbackWaitTakesEffectImmediately(t *testing.T) {
	r := New()
	r.SetFallbackWait(9 * time.Second)
	require.Equal(t, 9*time.Second, r.FallbackWait())
}

func TestBudgetRoundTrip(t *testing.T) {
	r := New()
	r.SetBudget("executing", 10, 100)
	assert.Equal(t, int64(10), r.BudgetHourly("executing"))
	assert.Equal(t, int64(100), r.BudgetDaily("executing"))
	// unrelated categories are untouched by a partial update
	assert.Equal(t, int64(50), r.BudgetHourly("improving"))
}

func TestSetRetentionTakesEffectImmediately(t *testing.T) {
	r := New()
	r.SetRetention(7*24*time.Hour, 10*time.Minute)
	assert.Equal(t, 7*24*time.Hour, r.RetentionWindow())
	assert.Equal(t, 10*time.Minute, r.CleanupInterval())
}

func TestUpdateIsAtomicSnapshotSwap(t *testing.T) {
	r := New()
	before := r.get()
	r.SetTaskTTL(42 * time.Minute)
	after := r.get()
	// the old snapshot must be untouched (no readers observe partial writes)
	assert.Equal(t, 10*time.Minute, before.TaskTTL)
	assert.Equal(t, 42*time.Minute, after.TaskTTL)
}
