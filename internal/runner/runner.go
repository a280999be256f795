// Package runner defines the external agent-runner contract and its
// implementations: a live Anthropic-backed runner and a deterministic
// simulated runner for offline use.
package runner

import (
	"context"
	"fmt"

	"github.com/rgoodall/quartermaster/pkg/models"
)

// Error codes for runner failures.
const (
	CodeTimeout       = "RUNNER_TIMEOUT"
	CodeTransport     = "RUNNER_TRANSPORT"
	CodeNotConfigured = "RUNNER_NOT_CONFIGURED"
	CodeRejected      = "RUNNER_REJECTED"
)

// Payload is the work handed to a runner for one subtask node.
type Payload struct {
	// NodeID identifies the subtask node, for logging and idempotency.
	NodeID string
	// Attempt is the 1-based attempt counter.
	Attempt int
	// Role is the worker role executing the node.
	Role models.Role
	// Capability is the specialist capability tag, if any.
	Capability string
	// Prompt is the text of the work.
	Prompt string
	// Temperature is the sampling temperature; zero declares the request
	// deterministic and cache-shareable across near-duplicates.
	Temperature float64
}

// Result is the product of one runner execution.
type Result struct {
	// Output is the produced text.
	Output string
	// TokensUsed is the total tokens the call consumed.
	TokensUsed int64
	// CostUSD is the cost of the call.
	CostUSD float64
}

// Error is a typed runner failure. Retryable failures feed the quality
// gate's retry policy; non-retryable ones escalate immediately.
type Error struct {
	// Code classifies the failure.
	Code string
	// Retryable reports whether a fresh attempt could succeed.
	Retryable bool
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("runner failure [%s]: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps a cause as a typed runner failure.
func NewError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Runner executes subtask payloads against an external agent. Execute may be
// invoked concurrently for independent nodes and must be safely retryable:
// the orchestrator treats it as idempotent per (NodeID, Attempt).
type Runner interface {
	Execute(ctx context.Context, payload Payload, budget models.ResourceBudget) (Result, error)
}
