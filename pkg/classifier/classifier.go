// Package classifier implements the complexity classifier (§4's
// Complexity Classifier row): a pure function from a task's submission
// fields to an effective tier plus a one-line explanation, cached on the
// task at submit time and never recomputed afterward.
package classifier

import (
	"fmt"
	"strings"

	"github.com/notno/agentcom-hub/pkg/task"
)

// Input is the subset of a task's submission fields the classifier
// considers. It deliberately mirrors task.SubmitParams rather than
// depending on a fully-built *task.Task, since classification happens
// before a task exists.
type Input struct {
	Description        string
	NeededCapabilities []string
	Metadata           map[string]any
}

// complexKeywords flags description text that signals multi-file,
// architectural, or high-risk work best routed to a cloud-scale model.
var complexKeywords = []string{
	"refactor", "architecture", "redesign", "migrate", "migration",
	"security", "vulnerability", "cve", "race condition", "deadlock",
	"distributed", "concurrency", "performance regression",
}

// trivialKeywords flags description text for small, mechanical edits
// that any idle sidecar can execute without a model call.
var trivialKeywords = []string{
	"typo", "rename", "format", "lint", "comment", "whitespace",
	"bump version", "update changelog",
}

const (
	shortDescriptionChars = 40
	longDescriptionChars  = 400
)

// Classify resolves an effective tier and a human-readable reason.
// Precedence, highest first:
//  1. An explicit "tier" override in metadata — lets the Goal
//     Orchestrator or an operator pin a tier without fighting the
//     heuristic.
//  2. A complex-keyword match in the description.
//  3. A trivial-keyword match, but only when the task also declares no
//     needed capabilities (a "rename this" task with a capability
//     requirement is not actually free-for-any-sidecar).
//  4. Description length: short with no capabilities trends trivial,
//     very long trends complex.
//  5. Default: standard.
//
// Classify never returns an error; a malformed metadata override falls
// through to the heuristic rather than failing the submission.
func Classify(in Input) task.Complexity {
	if tier, ok := overrideTier(in.Metadata); ok {
		return task.Complexity{EffectiveTier: tier, Reason: fmt.Sprintf("metadata override: tier=%s", tier)}
	}

	desc := strings.ToLower(in.Description)

	if kw, ok := matchAny(desc, complexKeywords); ok {
		return task.Complexity{EffectiveTier: task.TierComplex, Reason: fmt.Sprintf("description matches complex keyword %q", kw)}
	}

	if len(in.NeededCapabilities) == 0 {
		if kw, ok := matchAny(desc, trivialKeywords); ok {
			return task.Complexity{EffectiveTier: task.TierTrivial, Reason: fmt.Sprintf("description matches trivial keyword %q, no capabilities required", kw)}
		}
	}

	switch {
	case len(desc) == 0:
		return task.Complexity{EffectiveTier: task.TierUnknown, Reason: "empty description, cannot classify"}
	case len(desc) <= shortDescriptionChars && len(in.NeededCapabilities) == 0:
		return task.Complexity{EffectiveTier: task.TierTrivial, Reason: "short description with no declared capabilities"}
	case len(desc) >= longDescriptionChars:
		return task.Complexity{EffectiveTier: task.TierComplex, Reason: "long description suggests multi-step work"}
	default:
		return task.Complexity{EffectiveTier: task.TierStandard, Reason: "default tier for ordinary-length task description"}
	}
}

func matchAny(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}

func overrideTier(metadata map[string]any) (task.Tier, bool) {
	raw, ok := metadata["tier"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	switch task.Tier(s) {
	case task.TierTrivial, task.TierStandard, task.TierComplex, task.TierUnknown:
		return task.Tier(s), true
	default:
		return "", false
	}
}
