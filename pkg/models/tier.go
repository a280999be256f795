package models

// EffortTier is the discrete level of computational budget assigned to a
// task. Tiers are totally ordered; a higher tier never receives a smaller
// budget on any axis.
type EffortTier int

const (
	// TierTrivial is for tasks answerable almost for free.
	TierTrivial EffortTier = iota
	// TierSimple is for small single-step tasks.
	TierSimple
	// TierModerate is for standard multi-role tasks.
	TierModerate
	// TierComplex is for tasks requiring a full worker team.
	TierComplex
	// TierCritical is the ceiling tier for the most demanding work.
	TierCritical
)

// String returns the lowercase tier name.
func (t EffortTier) String() string {
	switch t {
	case TierTrivial:
		return "trivial"
	case TierSimple:
		return "simple"
	case TierModerate:
		return "moderate"
	case TierComplex:
		return "complex"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid returns true if the tier is a known value.
func (t EffortTier) Valid() bool {
	return t >= TierTrivial && t <= TierCritical
}

// Tiers lists all tiers in ascending order.
func Tiers() []EffortTier {
	return []EffortTier{TierTrivial, TierSimple, TierModerate, TierComplex, TierCritical}
}

// ParseTier converts a tier name to an EffortTier.
// Returns TierModerate and false for unknown names.
func ParseTier(name string) (EffortTier, bool) {
	for _, t := range Tiers() {
		if t.String() == name {
			return t, true
		}
	}
	return TierModerate, false
}

// CachePolicy controls how eagerly results for a tier are cached and reused.
type CachePolicy string

const (
	// CacheAggressive reuses exact and near matches and stores everything.
	CacheAggressive CachePolicy = "aggressive"
	// CacheStandard reuses exact and near matches.
	CacheStandard CachePolicy = "standard"
	// CacheSelective reuses exact matches only.
	CacheSelective CachePolicy = "selective"
	// CacheMinimal reuses exact matches only, with short retention.
	CacheMinimal CachePolicy = "minimal"
	// CacheNone bypasses the cache entirely.
	CacheNone CachePolicy = "none"
)

// Valid returns true if the policy is a known value.
func (p CachePolicy) Valid() bool {
	switch p {
	case CacheAggressive, CacheStandard, CacheSelective, CacheMinimal, CacheNone:
		return true
	default:
		return false
	}
}

// AllowsNearMatch reports whether the policy permits near-duplicate reuse.
func (p CachePolicy) AllowsNearMatch() bool {
	return p == CacheAggressive || p == CacheStandard
}

// PolicyForTier returns the cache policy attached to each effort tier.
func PolicyForTier(t EffortTier) CachePolicy {
	switch t {
	case TierTrivial:
		return CacheAggressive
	case TierSimple:
		return CacheStandard
	case TierModerate:
		return CacheSelective
	case TierComplex:
		return CacheMinimal
	default:
		return CacheNone
	}
}
