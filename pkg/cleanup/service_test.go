package cleanup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/notno/agentcom-hub/pkg/config"
)

func testConfig(t *testing.T) *config.Runtime {
	t.Helper()
	return config.New()
}

type fakeTaskPruner struct {
	cutoff time.Time
	pruned int
}

func (f *fakeTaskPruner) PruneHistory(cutoff time.Time) int {
	f.cutoff = cutoff
	return f.pruned
}

type fakeLedgerPruner struct {
	cutoff time.Time
	pruned int
}

func (f *fakeLedgerPruner) PruneBefore(cutoff time.Time) int {
	f.cutoff = cutoff
	return f.pruned
}

func TestRunOnceUsesRetentionWindowAsCutoff(t *testing.T) {
	cfg := testConfig(t)
	fixedNow := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	tasks := &fakeTaskPruner{pruned: 3}
	ledger := &fakeLedgerPruner{pruned: 2}
	svc := New(tasks, ledger, cfg)
	svc.now = func() time.Time { return fixedNow }

	svc.RunOnce()

	wantCutoff := fixedNow.Add(-cfg.RetentionWindow())
	assert.Equal(t, wantCutoff, tasks.cutoff)
	assert.Equal(t, wantCutoff, ledger.cutoff)
}

func TestRunOnceToleratesNilPruners(t *testing.T) {
	cfg := testConfig(t)
	svc := New(nil, nil, cfg)
	assert.NotPanics(t, func() { svc.RunOnce() })
}
