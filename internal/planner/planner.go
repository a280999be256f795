// Package planner turns a task into an effort tier and a concrete resource
// budget, consulting ledger pressure to dampen effort near limits.
package planner

import (
	"time"

	"github.com/rgoodall/quartermaster/internal/ledger"
	"github.com/rgoodall/quartermaster/pkg/models"
)

const (
	// descriptionNorm is the description length, in characters, at which the
	// length component of the complexity score saturates.
	descriptionNorm = 400
	// depsNorm is the dependency count at which that component saturates.
	depsNorm = 5
	// capsNorm is the distinct-capability count at which that component
	// saturates.
	capsNorm = 4

	// dampenFactor shrinks the complexity score when any tracked resource
	// is near its limit, demoting effort under sustained pressure.
	dampenFactor = 0.7
	// pressureThreshold is the utilization fraction at which dampening and
	// the paid-execution ban kick in.
	pressureThreshold = 0.80
)

// tierBudgets is the fixed per-tier ceiling table. Every numeric field is
// monotonically non-decreasing with tier order.
var tierBudgets = map[models.EffortTier]struct {
	maxTokens   int64
	maxCalls    int
	maxDuration time.Duration
}{
	models.TierTrivial:  {2_000, 1, 30 * time.Second},
	models.TierSimple:   {8_000, 2, 60 * time.Second},
	models.TierModerate: {32_000, 5, 5 * time.Minute},
	models.TierComplex:  {100_000, 10, 15 * time.Minute},
	models.TierCritical: {200_000, 20, 30 * time.Minute},
}

// Planner maps tasks to budgets. A Planner is a pure function of its inputs:
// planning the same task against the same ledger snapshot always yields the
// same budget.
type Planner struct {
	// freeCapabilities names capabilities servable without paid execution.
	// A task whose capability set is covered entirely by this set never
	// gets paid calls.
	freeCapabilities map[string]bool
}

// New creates a planner with the given free-capability set.
func New(freeCapabilities []string) *Planner {
	free := make(map[string]bool, len(freeCapabilities))
	for _, c := range freeCapabilities {
		free[c] = true
	}
	return &Planner{freeCapabilities: free}
}

// Plan computes the resource budget for a task against a ledger snapshot.
func (p *Planner) Plan(task models.Task, snap ledger.Snapshot) models.ResourceBudget {
	score := Score(task)

	nearLimit := snap.NearLimit(pressureThreshold)
	if nearLimit {
		score *= dampenFactor
	}

	tier := TierFor(score)

	paid := true
	switch {
	case nearLimit:
		paid = false
	case tier < models.TierModerate:
		paid = false
	case p.allFree(task.DistinctCapabilities()):
		paid = false
	}

	limits := tierBudgets[tier]
	calls := limits.maxCalls
	if !paid {
		calls = 0
	}

	return models.ResourceBudget{
		Tier:        tier,
		MaxTokens:   limits.maxTokens,
		MaxCalls:    calls,
		MaxDuration: limits.maxDuration,
		CachePolicy: models.PolicyForTier(tier),
		PaidAllowed: paid,
		Score:       score,
	}
}

// Score computes the raw complexity score in [0, 1]: capped contributions
// from description length, dependency count, and distinct capabilities, plus
// an explicit hint weighted at 0.4 when present.
func Score(task models.Task) float64 {
	score := capped(float64(len(task.Description)), descriptionNorm) +
		capped(float64(len(task.DependsOn)), depsNorm) +
		capped(float64(len(task.DistinctCapabilities())), capsNorm)
	if task.ComplexityHint != nil {
		score += 0.4 * clamp01(*task.ComplexityHint)
	}
	return clamp01(score)
}

// capped returns 0.2 * value/norm, saturating at 0.2.
func capped(value, norm float64) float64 {
	contribution := 0.2 * value / norm
	if contribution > 0.2 {
		return 0.2
	}
	return contribution
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TierFor maps a (possibly dampened) complexity score to an effort tier.
func TierFor(score float64) models.EffortTier {
	switch {
	case score < 0.2:
		return models.TierTrivial
	case score < 0.4:
		return models.TierSimple
	case score < 0.6:
		return models.TierModerate
	case score < 0.8:
		return models.TierComplex
	default:
		return models.TierCritical
	}
}

// allFree reports whether every capability is in the free set. An empty
// capability set is not considered free coverage.
func (p *Planner) allFree(caps []string) bool {
	if len(caps) == 0 {
		return false
	}
	for _, c := range caps {
		if !p.freeCapabilities[c] {
			return false
		}
	}
	return true
}

// TierBudget exposes the raw ceiling table for a tier, for configuration
// display and tests.
func TierBudget(tier models.EffortTier) (maxTokens int64, maxCalls int, maxDuration time.Duration) {
	b := tierBudgets[tier]
	return b.maxTokens, b.maxCalls, b.maxDuration
}
