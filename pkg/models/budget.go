package models

import "time"

// ResourceBudget is the concrete resource envelope computed once per task by
// the planner. It is read-only after planning; workers receive slices of it
// through role assignments.
type ResourceBudget struct {
	// Tier is the effort tier this budget was derived from.
	Tier EffortTier `json:"tier"`
	// MaxTokens is the token ceiling for the whole task.
	MaxTokens int64 `json:"max_tokens"`
	// MaxCalls is the external-call ceiling. Zero when paid execution is
	// forbidden.
	MaxCalls int `json:"max_calls"`
	// MaxDuration is the wall-clock ceiling per node execution.
	MaxDuration time.Duration `json:"max_duration"`
	// CachePolicy controls cache participation for this task.
	CachePolicy CachePolicy `json:"cache_policy"`
	// PaidAllowed reports whether paid execution paths may be used.
	PaidAllowed bool `json:"paid_allowed"`
	// Score is the (possibly dampened) complexity score the tier was
	// derived from. Kept for observability.
	Score float64 `json:"score"`
}

// Scale returns a copy of the budget with the token ceiling scaled by frac
// and calls split proportionally. Duration is not divided: it is a per-node
// wall-clock ceiling, not a shared pool.
func (b ResourceBudget) Scale(frac float64) ResourceBudget {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	out := b
	out.MaxTokens = int64(float64(b.MaxTokens) * frac)
	out.MaxCalls = int(float64(b.MaxCalls) * frac)
	if b.MaxCalls > 0 && out.MaxCalls == 0 && frac > 0 {
		out.MaxCalls = 1
	}
	return out
}

// Role names the function a worker performs within a task's team.
type Role string

const (
	// RoleGeneralist handles an entire low-tier task alone.
	RoleGeneralist Role = "generalist"
	// RoleCoordinator sequences the team's work.
	RoleCoordinator Role = "coordinator"
	// RoleResearcher gathers context before specialists start.
	RoleResearcher Role = "researcher"
	// RoleSpecialist executes work for one required capability.
	RoleSpecialist Role = "specialist"
	// RoleValidator reviews the team's combined output.
	RoleValidator Role = "validator"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleGeneralist, RoleCoordinator, RoleResearcher, RoleSpecialist, RoleValidator:
		return true
	default:
		return false
	}
}

// RoleAssignment maps a worker role to its sub-budget. New roles are new
// capability tags, not new types; every assignment is executed through the
// same runner contract.
type RoleAssignment struct {
	// Role is the worker role.
	Role Role `json:"role"`
	// Capability is the capability tag a specialist serves. Empty for
	// non-specialist roles.
	Capability string `json:"capability,omitempty"`
	// Budget is this role's slice of the task budget.
	Budget ResourceBudget `json:"budget"`
}
