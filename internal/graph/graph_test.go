package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/rgoodall/quartermaster/pkg/models"
)

func node(id string, deps ...string) *models.SubtaskNode {
	return &models.SubtaskNode{ID: id, DependsOn: deps, Status: models.NodePending}
}

func ids(nodes []*models.SubtaskNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	sort.Strings(out)
	return out
}

func TestBuildRejectsCycle(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*models.SubtaskNode
	}{
		{"self loop", []*models.SubtaskNode{node("a", "a")}},
		{"three node cycle", []*models.SubtaskNode{node("a", "c"), node("b", "a"), node("c", "b")}},
		{"cycle behind a valid prefix", []*models.SubtaskNode{
			node("root"), node("a", "root"), node("b", "a", "c"), node("c", "b"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Build(tt.nodes)
			if !errors.Is(err, ErrCycleDetected) {
				t.Errorf("Build() error = %v, want ErrCycleDetected", err)
			}
			if g != nil {
				t.Error("Build() returned a graph alongside a cycle error")
			}
			// Rejection happens before execution: no node moved off pending.
			for _, n := range tt.nodes {
				if n.Status != models.NodePending {
					t.Errorf("node %s status = %v after rejected build", n.ID, n.Status)
				}
			}
		})
	}
}

func TestBuildRejectsUnknownReference(t *testing.T) {
	_, err := Build([]*models.SubtaskNode{node("a"), node("b", "ghost")})
	if err == nil || errors.Is(err, ErrCycleDetected) {
		t.Errorf("Build() error = %v, want unknown-reference error", err)
	}
}

func TestBuildRejectsDuplicateID(t *testing.T) {
	if _, err := Build([]*models.SubtaskNode{node("a"), node("a")}); err == nil {
		t.Error("Build() accepted duplicate node id")
	}
}

func TestReadyTracksApprovals(t *testing.T) {
	g, err := Build([]*models.SubtaskNode{
		node("a"), node("b"), node("c", "a", "b"), node("d", "c"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := ids(g.Ready()); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Ready() = %v, want [a b]", got)
	}

	g.SetStatus("a", models.NodeApproved)
	if got := ids(g.Ready()); len(got) != 1 || got[0] != "b" {
		t.Errorf("Ready() after a approved = %v, want [b]", got)
	}

	g.SetStatus("b", models.NodeApproved)
	if got := ids(g.Ready()); len(got) != 1 || got[0] != "c" {
		t.Errorf("Ready() after a,b approved = %v, want [c]", got)
	}
}

func TestCancelDependentsIsTransitive(t *testing.T) {
	g, err := Build([]*models.SubtaskNode{
		node("a"), node("b", "a"), node("c", "b"), node("d", "c"), node("side"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	cancelled := g.CancelDependents("a")
	sort.Strings(cancelled)
	want := []string{"b", "c", "d"}
	if len(cancelled) != len(want) {
		t.Fatalf("CancelDependents(a) = %v, want %v", cancelled, want)
	}
	for i := range want {
		if cancelled[i] != want[i] {
			t.Fatalf("CancelDependents(a) = %v, want %v", cancelled, want)
		}
	}
	if g.Node("side").Status != models.NodePending {
		t.Error("unrelated node was cancelled")
	}
	if g.Node("a").Status != models.NodePending {
		t.Error("the failed node itself must not be cancelled by fan-out")
	}
}

func TestCancelDependentsSkipsRunningAndTerminal(t *testing.T) {
	g, err := Build([]*models.SubtaskNode{node("a"), node("b", "a"), node("c", "a")})
	if err != nil {
		t.Fatal(err)
	}
	g.SetStatus("b", models.NodeRunning)

	cancelled := g.CancelDependents("a")
	if len(cancelled) != 1 || cancelled[0] != "c" {
		t.Errorf("CancelDependents(a) = %v, want [c]", cancelled)
	}
	if g.Node("b").Status != models.NodeRunning {
		t.Error("in-flight node must not be retroactively cancelled")
	}
}

func TestCompleteAndSettled(t *testing.T) {
	g, err := Build([]*models.SubtaskNode{node("a"), node("b", "a")})
	if err != nil {
		t.Fatal(err)
	}

	if g.Complete() || g.Settled() {
		t.Error("fresh graph reported complete/settled")
	}

	g.SetStatus("a", models.NodeApproved)
	g.SetStatus("b", models.NodeFailed)
	if g.Complete() {
		t.Error("graph with a failed node reported complete")
	}
	if !g.Settled() {
		t.Error("graph with all-terminal nodes not settled")
	}

	g.SetStatus("b", models.NodeApproved)
	if !g.Complete() {
		t.Error("all-approved graph not complete")
	}
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	g, err := Build([]*models.SubtaskNode{
		node("a"), node("b", "a"), node("c", "a"), node("d", "b", "c"), node("lone"),
	})
	if err != nil {
		t.Fatal(err)
	}

	order, err := g.TopoOrder()
	if err != nil {
		t.Fatalf("TopoOrder() error = %v", err)
	}
	if len(order) != g.Size() {
		t.Fatalf("TopoOrder() returned %d ids, want %d", len(order), g.Size())
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, n := range g.Nodes() {
		for _, dep := range g.Dependencies(n.ID) {
			if pos[dep] > pos[n.ID] {
				t.Errorf("dependency %s ordered after %s", dep, n.ID)
			}
		}
	}
}
