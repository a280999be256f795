package models

import (
	"testing"
	"time"
)

func TestDistinctCapabilities(t *testing.T) {
	tests := []struct {
		name string
		caps []string
		want int
	}{
		{"empty", nil, 0},
		{"unique", []string{"research", "backend"}, 2},
		{"duplicates", []string{"research", "research", "backend"}, 2},
		{"blank entries", []string{"", "backend", ""}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{ID: "t1", Capabilities: tt.caps}
			if got := task.DistinctCapabilities(); len(got) != tt.want {
				t.Errorf("DistinctCapabilities() = %v, want %d entries", got, tt.want)
			}
		})
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if TaskStatusPending.Terminal() || TaskStatusRunning.Terminal() {
		t.Error("pending and running must not be terminal")
	}
	if !TaskStatusApproved.Terminal() || !TaskStatusFailed.Terminal() {
		t.Error("approved and failed must be terminal")
	}
}

func TestNodeStatusTerminal(t *testing.T) {
	terminal := []NodeStatus{NodeApproved, NodeFailed, NodeCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []NodeStatus{NodePending, NodeReady, NodeRunning, NodeAwaitingQC, NodeRejected}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestBudgetScale(t *testing.T) {
	b := ResourceBudget{
		Tier:        TierComplex,
		MaxTokens:   100_000,
		MaxCalls:    10,
		MaxDuration: 15 * time.Minute,
	}

	half := b.Scale(0.5)
	if half.MaxTokens != 50_000 {
		t.Errorf("MaxTokens = %d, want 50000", half.MaxTokens)
	}
	if half.MaxCalls != 5 {
		t.Errorf("MaxCalls = %d, want 5", half.MaxCalls)
	}
	if half.MaxDuration != b.MaxDuration {
		t.Error("Scale must not divide the per-node duration ceiling")
	}

	// Tiny fractions keep at least one call when the parent had any.
	sliver := b.Scale(0.01)
	if sliver.MaxCalls != 1 {
		t.Errorf("MaxCalls = %d, want 1", sliver.MaxCalls)
	}

	// A zero-call parent stays at zero regardless of fraction.
	free := ResourceBudget{MaxTokens: 1000, MaxCalls: 0}
	if got := free.Scale(0.5); got.MaxCalls != 0 {
		t.Errorf("MaxCalls = %d, want 0", got.MaxCalls)
	}
}
