package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notno/agentcom-hub/pkg/task"
)

func TestMetadataOverrideWins(t *testing.T) {
	got := Classify(Input{Description: "refactor the entire auth subsystem", Metadata: map[string]any{"tier": "trivial"}})
	assert.Equal(t, task.TierTrivial, got.EffectiveTier)
}

func TestComplexKeywordDetected(t *testing.T) {
	got := Classify(Input{Description: "Investigate a race condition in the scheduler"})
	assert.Equal(t, task.TierComplex, got.EffectiveTier)
}

func TestTrivialKeywordRequiresNoCapabilities(t *testing.T) {
	got := Classify(Input{Description: "fix a typo in the README", NeededCapabilities: []string{"code"}})
	assert.NotEqual(t, task.TierTrivial, got.EffectiveTier)
}

func TestTrivialKeywordWithNoCapabilities(t *testing.T) {
	got := Classify(Input{Description: "fix a typo in the README"})
	assert.Equal(t, task.TierTrivial, got.EffectiveTier)
}

func TestEmptyDescriptionIsUnknown(t *testing.T) {
	got := Classify(Input{})
	assert.Equal(t, task.TierUnknown, got.EffectiveTier)
}

func TestShortDescriptionNoCapabilitiesIsTrivial(t *testing.T) {
	got := Classify(Input{Description: "bump the README"})
	assert.Equal(t, task.TierTrivial, got.EffectiveTier)
}

func TestLongDescriptionIsComplex(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "rework the handler to support additional edge cases; "
	}
	got := Classify(Input{Description: long})
	assert.Equal(t, task.TierComplex, got.EffectiveTier)
}

func TestOrdinaryDescriptionIsStandard(t *testing.T) {
	got := Classify(Input{Description: "add a health check endpoint to the api server", NeededCapabilities: []string{"code"}})
	assert.Equal(t, task.TierStandard, got.EffectiveTier)
}

func TestInvalidMetadataOverrideFallsThroughToHeuristic(t *testing.T) {
	got := Classify(Input{Description: "bump the README", Metadata: map[string]any{"tier": "not-a-real-tier"}})
	assert.Equal(t, task.TierTrivial, got.EffectiveTier)
}
