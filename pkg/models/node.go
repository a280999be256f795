package models

import "time"

// NodeStatus represents the state of a subtask node within its run.
type NodeStatus string

const (
	// NodePending indicates predecessors are not yet approved.
	NodePending NodeStatus = "pending"
	// NodeReady indicates all predecessors are approved.
	NodeReady NodeStatus = "ready"
	// NodeRunning indicates a worker is executing the node.
	NodeRunning NodeStatus = "running"
	// NodeAwaitingQC indicates a result was produced and is being validated.
	NodeAwaitingQC NodeStatus = "awaiting_qc"
	// NodeApproved indicates the quality gate approved the result. Terminal.
	NodeApproved NodeStatus = "approved"
	// NodeRejected indicates the quality gate rejected the attempt.
	NodeRejected NodeStatus = "rejected"
	// NodeFailed indicates retries were exhausted or the failure was not
	// retryable. Terminal.
	NodeFailed NodeStatus = "failed"
	// NodeCancelled indicates the node was never started because an
	// upstream node failed or the run was aborted. Terminal.
	NodeCancelled NodeStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodePending, NodeReady, NodeRunning, NodeAwaitingQC,
		NodeApproved, NodeRejected, NodeFailed, NodeCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a node never leaves.
func (s NodeStatus) Terminal() bool {
	return s == NodeApproved || s == NodeFailed || s == NodeCancelled
}

// SubtaskNode is one vertex of a task's dependency graph. Nodes are owned
// exclusively by the orchestrator run that created the graph; workers see
// only a copy of the payload and report back over a channel.
type SubtaskNode struct {
	// ID is the unique identifier for this node.
	ID string `json:"id"`
	// TaskID is the task this node belongs to.
	TaskID string `json:"task_id"`
	// Description is the node's share of the task description.
	Description string `json:"description"`
	// DependsOn lists predecessor node IDs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Assignment is the role and sub-budget this node executes under.
	Assignment RoleAssignment `json:"assignment"`
	// Status is the node's current state.
	Status NodeStatus `json:"status"`
	// Attempt counts submissions of this node, starting at 1.
	Attempt int `json:"attempt"`
	// Result holds the approved output once the node is terminal.
	Result string `json:"result,omitempty"`
	// Error describes why the node failed, if it did.
	Error string `json:"error,omitempty"`
	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the node reached a terminal state.
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
