// Package router implements the Router/Scheduler (§4.4): the pure
// routing decision that pairs one task with a target, and the stateful
// scheduler loop that applies it across idle agents, arms the one-step
// fallback timer, and sweeps overdue/TTL-expired tasks.
package router

import (
	"fmt"
	"math"
	"time"

	"github.com/notno/agentcom-hub/pkg/agent"
	"github.com/notno/agentcom-hub/pkg/endpoint"
	"github.com/notno/agentcom-hub/pkg/task"
)

// assumedHostRAMMB is the normalization baseline for the Ollama
// candidate scoring's capacity factor — a "normalized RAM-total, capped
// at 1.5x" needs a reference point the distilled spec does not name;
// 64GB is a representative developer-workstation/Ollama-host size.
const assumedHostRAMMB = 64 * 1024

// recentRepoWindow bounds how many of an endpoint's most-recently-seen
// repos count toward the repo-affinity bonus (§4.4.1 step 4's "last N
// tasks").
const recentRepoWindow = 5

// Result is the outcome of one Route call: either a committed
// selection ready for Queue.Assign, or an unavailability with a
// proposed one-step fallback tier.
type Result struct {
	Available    bool
	AgentID      string
	Decision     task.RoutingDecision
	FallbackTier task.Tier
	Reason       string
}

// fallbackNeighbor returns the one tier a given tier escalates/de-
// escalates to when it has no candidates. Standard escalates to
// complex (favor capability over speed when Ollama capacity is
// exhausted); complex and trivial both fall back to standard, their
// only adjacent tier (§4.4.2: "never skip a tier").
func fallbackNeighbor(tier task.Tier) task.Tier {
	switch tier {
	case task.TierTrivial:
		return task.TierStandard
	case task.TierStandard:
		return task.TierComplex
	case task.TierComplex:
		return task.TierStandard
	default:
		return task.TierStandard
	}
}

func resolveTier(t *task.Task) task.Tier {
	if t.Complexity.EffectiveTier == task.TierUnknown || t.Complexity.EffectiveTier == "" {
		return task.TierStandard
	}
	return t.Complexity.EffectiveTier
}

func targetForTier(tier task.Tier) task.TargetType {
	switch tier {
	case task.TierTrivial:
		return task.TargetSidecar
	case task.TierComplex:
		return task.TargetCloudAPI
	default:
		return task.TargetOllama
	}
}

// Route resolves a single routing decision for t (§4.4.1, pure: same
// inputs always produce the same result). forcedTier overrides the
// task's classified tier when non-empty — used by the fallback timer's
// forced-retry path.
func Route(t *task.Task, idleAgents []agent.Agent, endpoints []endpoint.StatusSnapshot, defaultModel string, forcedTier task.Tier, now time.Time) Result {
	tier := resolveTier(t)
	if forcedTier != "" {
		tier = forcedTier
	}
	target := targetForTier(tier)

	switch target {
	case task.TargetSidecar:
		return routeSidecar(t, idleAgents, tier, now)
	case task.TargetCloudAPI:
		return routeCloudAPI(t, idleAgents, tier, now)
	default:
		return routeOllama(t, idleAgents, endpoints, defaultModel, tier, now)
	}
}

func routeSidecar(t *task.Task, idleAgents []agent.Agent, tier task.Tier, now time.Time) Result {
	for _, a := range idleAgents {
		if !a.HasCapabilities(t.NeededCapabilities) {
			continue
		}
		return Result{
			Available: true,
			AgentID:   a.ID,
			Decision: task.RoutingDecision{
				EffectiveTier:         tier,
				TargetType:            task.TargetSidecar,
				CandidateCount:        1,
				ClassificationReason:  t.Complexity.Reason,
				DecidedAt:             now,
			},
		}
	}
	return Result{
		Available:    false,
		FallbackTier: fallbackNeighbor(tier),
		Reason:       "no idle agent satisfies needed_capabilities for sidecar delivery",
	}
}

func routeCloudAPI(t *task.Task, idleAgents []agent.Agent, tier task.Tier, now time.Time) Result {
	for _, a := range idleAgents {
		if !a.CloudAPICapable {
			continue
		}
		if !a.HasCapabilities(t.NeededCapabilities) {
			continue
		}
		return Result{
			Available: true,
			AgentID:   a.ID,
			Decision: task.RoutingDecision{
				EffectiveTier:        tier,
				TargetType:           task.TargetCloudAPI,
				CandidateCount:       1,
				ClassificationReason: t.Complexity.Reason,
				DecidedAt:            now,
			},
		}
	}
	return Result{
		Available:    false,
		FallbackTier: fallbackNeighbor(tier),
		Reason:       "no idle cloud_api-capable agent online",
	}
}

type scoredEndpoint struct {
	snap  endpoint.StatusSnapshot
	score float64
}

func routeOllama(t *task.Task, idleAgents []agent.Agent, endpoints []endpoint.StatusSnapshot, defaultModel string, tier task.Tier, now time.Time) Result {
	byOllamaURL := make(map[string]agent.Agent, len(idleAgents))
	for _, a := range idleAgents {
		if a.OllamaURL != "" && a.HasCapabilities(t.NeededCapabilities) {
			byOllamaURL[a.OllamaURL] = a
		}
	}

	repo, _ := t.Metadata["repo"].(string)

	var candidates []scoredEndpoint
	for _, snap := range endpoints {
		if snap.Kind != endpoint.KindOllama || snap.Status != endpoint.StatusHealthy {
			continue
		}
		if !containsString(snap.Models, defaultModel) {
			continue
		}
		if _, hasAgent := byOllamaURL[snap.Address]; !hasAgent {
			continue
		}
		candidates = append(candidates, scoredEndpoint{snap: snap, score: scoreEndpoint(snap, defaultModel, repo)})
	}

	if len(candidates) == 0 {
		return Result{
			Available:    false,
			FallbackTier: fallbackNeighbor(tier),
			Reason:       fmt.Sprintf("no healthy ollama endpoint serves model %q with an idle owning agent", defaultModel),
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	chosenAgent := byOllamaURL[best.snap.Address]

	return Result{
		Available: true,
		AgentID:   chosenAgent.ID,
		Decision: task.RoutingDecision{
			EffectiveTier:        tier,
			TargetType:           task.TargetOllama,
			SelectedEndpoint:     best.snap.ID,
			SelectedModel:        defaultModel,
			CandidateCount:       len(candidates),
			ClassificationReason: t.Complexity.Reason,
			DecidedAt:            now,
		},
	}
}

// scoreEndpoint implements §4.4.1 step 4's candidate scoring formula.
func scoreEndpoint(snap endpoint.StatusSnapshot, model, repo string) float64 {
	score := 1.0

	var cpuPercent, ramTotal, vramUsed, vramTotal float64
	var loadedModels, recentRepos []string
	if snap.Resources != nil {
		cpuPercent = snap.Resources.CPUPercent
		ramTotal = snap.Resources.RAMTotalMB
		vramUsed = snap.Resources.VRAMUsedMB
		vramTotal = snap.Resources.VRAMTotalMB
		loadedModels = snap.Resources.LoadedModels
		recentRepos = snap.Resources.RecentRepos
	}

	loadFactor := 1 - cpuPercent/100
	score *= loadFactor

	capacityFactor := math.Min(ramTotal/assumedHostRAMMB, 1.5)
	score *= capacityFactor

	vramFactor := 0.9
	if vramTotal > 0 {
		vramFactor = 0.8 + 0.2*(1-vramUsed/vramTotal)
	}
	score *= vramFactor

	if containsString(loadedModels, model) {
		score *= 1.15
	}

	if repo != "" && len(recentRepos) > 0 {
		window := recentRepos
		if len(window) > recentRepoWindow {
			window = window[len(window)-recentRepoWindow:]
		}
		if containsString(window, repo) {
			score *= 1.05
		}
	}

	return score
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
