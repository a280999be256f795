package models

import "time"

// TaskStatus represents the terminal-tracking state of a submitted task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has been accepted but not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task's subtask graph is executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusApproved indicates every subtask node reached Approved.
	TaskStatusApproved TaskStatus = "approved"
	// TaskStatusFailed indicates a node exhausted its retries or hit a
	// non-retryable error; dependents were cancelled.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusApproved, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a task never leaves.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusApproved || s == TaskStatusFailed
}

// Task is a unit of work submitted to the engine. A task is immutable once
// accepted into a dependency graph.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Description is the free-text statement of the work.
	Description string `json:"description" yaml:"description"`
	// DependsOn lists task IDs that must be approved before this task runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Capabilities lists the capability tags this task requires.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// ComplexityHint is an optional explicit complexity estimate in [0, 1].
	ComplexityHint *float64 `json:"complexity_hint,omitempty" yaml:"complexity_hint,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"-"`
}

// DistinctCapabilities returns the task's capability tags with duplicates
// removed, preserving first-seen order.
func (t Task) DistinctCapabilities() []string {
	seen := make(map[string]bool, len(t.Capabilities))
	var out []string
	for _, c := range t.Capabilities {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
