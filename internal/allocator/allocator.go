// Package allocator translates a budget and effort tier into worker role
// assignments with per-role sub-budgets. Allocation is deterministic: the
// same (tier, capability set) always yields the same team.
package allocator

import (
	"github.com/rgoodall/quartermaster/pkg/models"
)

// Allocate builds the role team for a task under its budget.
//
// Trivial and Simple tiers get a single generalist with the full budget.
// Moderate gets a coordinator (25%), one specialist (50%), and a validator
// (25%). Complex and Critical get a coordinator (10%), a researcher (20%),
// one specialist per distinct required capability sharing 50% evenly, and a
// validator (20%). A task with no declared capabilities still gets one
// generic specialist.
func Allocate(task models.Task, budget models.ResourceBudget) []models.RoleAssignment {
	switch budget.Tier {
	case models.TierTrivial, models.TierSimple:
		return []models.RoleAssignment{
			{Role: models.RoleGeneralist, Budget: budget},
		}
	case models.TierModerate:
		return []models.RoleAssignment{
			{Role: models.RoleCoordinator, Budget: budget.Scale(0.25)},
			{Role: models.RoleSpecialist, Capability: primaryCapability(task), Budget: budget.Scale(0.50)},
			{Role: models.RoleValidator, Budget: budget.Scale(0.25)},
		}
	default:
		return teamAllocation(task, budget)
	}
}

// teamAllocation builds the Complex/Critical team.
func teamAllocation(task models.Task, budget models.ResourceBudget) []models.RoleAssignment {
	caps := task.DistinctCapabilities()
	if len(caps) == 0 {
		caps = []string{""}
	}

	out := make([]models.RoleAssignment, 0, len(caps)+3)
	out = append(out,
		models.RoleAssignment{Role: models.RoleCoordinator, Budget: budget.Scale(0.10)},
		models.RoleAssignment{Role: models.RoleResearcher, Budget: budget.Scale(0.20)},
	)

	share := 0.50 / float64(len(caps))
	for _, cap := range caps {
		out = append(out, models.RoleAssignment{
			Role:       models.RoleSpecialist,
			Capability: cap,
			Budget:     budget.Scale(share),
		})
	}

	out = append(out, models.RoleAssignment{Role: models.RoleValidator, Budget: budget.Scale(0.20)})
	return out
}

// primaryCapability returns the first distinct capability, or empty for a
// generic specialist.
func primaryCapability(task models.Task) string {
	caps := task.DistinctCapabilities()
	if len(caps) == 0 {
		return ""
	}
	return caps[0]
}
