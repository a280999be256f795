package orchestrator

import (
	"fmt"

	"github.com/rgoodall/quartermaster/internal/allocator"
	"github.com/rgoodall/quartermaster/pkg/models"
)

// decompose expands each task into a chain of role nodes per its allocation
// and wires cross-task edges: a task's entry node waits on the final node of
// every task it depends on.
//
// Node shapes by tier:
//
//	Trivial/Simple   generalist
//	Moderate         coordinator → specialist → validator
//	Complex/Critical coordinator → researcher → specialists (parallel) → validator
func decompose(tasks []models.Task, budgets map[string]models.ResourceBudget) []*models.SubtaskNode {
	var nodes []*models.SubtaskNode
	for _, task := range tasks {
		crossDeps := make([]string, 0, len(task.DependsOn))
		for _, depTaskID := range task.DependsOn {
			crossDeps = append(crossDeps, finalNodeID(taskByID(tasks, depTaskID), budgets[depTaskID]))
		}
		nodes = append(nodes, taskNodes(task, budgets[task.ID], crossDeps)...)
	}
	return nodes
}

func taskByID(tasks []models.Task, id string) models.Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return models.Task{ID: id}
}

// nodeID names a role node deterministically so cross-task edges can be
// computed without global state.
func nodeID(taskID string, role models.Role, idx int) string {
	if role == models.RoleSpecialist {
		return fmt.Sprintf("%s.%s.%d", taskID, role, idx)
	}
	return fmt.Sprintf("%s.%s", taskID, role)
}

// finalNodeID returns the node other tasks wait on: the validator for team
// tiers, the generalist otherwise.
func finalNodeID(task models.Task, budget models.ResourceBudget) string {
	if budget.Tier >= models.TierModerate {
		return nodeID(task.ID, models.RoleValidator, 0)
	}
	return nodeID(task.ID, models.RoleGeneralist, 0)
}

func taskNodes(task models.Task, budget models.ResourceBudget, crossDeps []string) []*models.SubtaskNode {
	assignments := allocator.Allocate(task, budget)

	newNode := func(a models.RoleAssignment, idx int, deps []string) *models.SubtaskNode {
		return &models.SubtaskNode{
			ID:          nodeID(task.ID, a.Role, idx),
			TaskID:      task.ID,
			Description: roleDescription(task, a),
			DependsOn:   deps,
			Assignment:  a,
			Status:      models.NodePending,
		}
	}

	if budget.Tier < models.TierModerate {
		return []*models.SubtaskNode{newNode(assignments[0], 0, crossDeps)}
	}

	var nodes []*models.SubtaskNode
	var prevStage []string
	specialistIdx := 0
	var specialists []string

	for _, a := range assignments {
		switch a.Role {
		case models.RoleCoordinator:
			n := newNode(a, 0, crossDeps)
			nodes = append(nodes, n)
			prevStage = []string{n.ID}
		case models.RoleResearcher:
			n := newNode(a, 0, prevStage)
			nodes = append(nodes, n)
			prevStage = []string{n.ID}
		case models.RoleSpecialist:
			n := newNode(a, specialistIdx, prevStage)
			specialistIdx++
			nodes = append(nodes, n)
			specialists = append(specialists, n.ID)
		case models.RoleValidator:
			deps := specialists
			if len(deps) == 0 {
				deps = prevStage
			}
			nodes = append(nodes, newNode(a, 0, deps))
		}
	}
	return nodes
}

// roleDescription frames the task description for one role's share of it.
func roleDescription(task models.Task, a models.RoleAssignment) string {
	switch a.Role {
	case models.RoleCoordinator:
		return fmt.Sprintf("Break down and sequence: %s", task.Description)
	case models.RoleResearcher:
		return fmt.Sprintf("Gather context for: %s", task.Description)
	case models.RoleSpecialist:
		if a.Capability != "" {
			return fmt.Sprintf("Execute the %s portion of: %s", a.Capability, task.Description)
		}
		return fmt.Sprintf("Execute: %s", task.Description)
	case models.RoleValidator:
		return fmt.Sprintf("Review the combined output for: %s", task.Description)
	default:
		return task.Description
	}
}
