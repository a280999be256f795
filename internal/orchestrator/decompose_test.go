package orchestrator

import (
	"testing"

	"github.com/rgoodall/quartermaster/pkg/models"
)

func trivialBudget() models.ResourceBudget {
	return models.ResourceBudget{Tier: models.TierTrivial, MaxTokens: 2000, MaxCalls: 1}
}

func complexBudget() models.ResourceBudget {
	return models.ResourceBudget{Tier: models.TierComplex, MaxTokens: 100_000, MaxCalls: 10}
}

func TestDecomposeCrossTaskEdges(t *testing.T) {
	tasks := []models.Task{
		{ID: "up", Description: "upstream"},
		{ID: "down", Description: "downstream", DependsOn: []string{"up"}},
	}
	budgets := map[string]models.ResourceBudget{
		"up":   trivialBudget(),
		"down": trivialBudget(),
	}

	nodes := decompose(tasks, budgets)
	if len(nodes) != 2 {
		t.Fatalf("decompose() produced %d nodes, want 2", len(nodes))
	}

	var down *models.SubtaskNode
	for _, n := range nodes {
		if n.TaskID == "down" {
			down = n
		}
	}
	if down == nil {
		t.Fatal("no node for task down")
	}
	if len(down.DependsOn) != 1 || down.DependsOn[0] != "up.generalist" {
		t.Errorf("down deps = %v, want [up.generalist]", down.DependsOn)
	}
}

func TestDecomposeTeamChain(t *testing.T) {
	task := models.Task{ID: "t", Description: "work", Capabilities: []string{"go", "sql"}}
	nodes := decompose([]models.Task{task}, map[string]models.ResourceBudget{"t": complexBudget()})

	byID := make(map[string]*models.SubtaskNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	deps := func(id string) []string {
		n, ok := byID[id]
		if !ok {
			t.Fatalf("missing node %s; have %v", id, nodeIDs(nodes))
		}
		return n.DependsOn
	}

	if got := deps("t.coordinator"); len(got) != 0 {
		t.Errorf("coordinator deps = %v, want entry node", got)
	}
	if got := deps("t.researcher"); len(got) != 1 || got[0] != "t.coordinator" {
		t.Errorf("researcher deps = %v, want [t.coordinator]", got)
	}
	for _, id := range []string{"t.specialist.0", "t.specialist.1"} {
		if got := deps(id); len(got) != 1 || got[0] != "t.researcher" {
			t.Errorf("%s deps = %v, want [t.researcher]", id, got)
		}
	}
	if got := deps("t.validator"); len(got) != 2 {
		t.Errorf("validator deps = %v, want both specialists", got)
	}

	if byID["t.specialist.0"].Assignment.Capability != "go" ||
		byID["t.specialist.1"].Assignment.Capability != "sql" {
		t.Error("specialist nodes should carry capabilities in declared order")
	}
}

func TestCrossTaskEdgeTargetsDependencyValidator(t *testing.T) {
	tasks := []models.Task{
		{ID: "team", Description: "team task", Capabilities: []string{"go"}},
		{ID: "solo", Description: "solo task", DependsOn: []string{"team"}},
	}
	budgets := map[string]models.ResourceBudget{
		"team": complexBudget(),
		"solo": trivialBudget(),
	}

	nodes := decompose(tasks, budgets)
	for _, n := range nodes {
		if n.TaskID == "solo" {
			if len(n.DependsOn) != 1 || n.DependsOn[0] != "team.validator" {
				t.Errorf("solo deps = %v, want [team.validator]", n.DependsOn)
			}
		}
	}
}

func nodeIDs(nodes []*models.SubtaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
