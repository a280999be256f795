package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rgoodall/quartermaster/pkg/models"
)

// SimRunner is a deterministic offline runner. It produces a synthetic
// deliverable derived only from the payload, so runs are reproducible and
// cost nothing. Used for dry runs and tests.
type SimRunner struct {
	// Latency is the simulated per-call duration. Zero returns immediately.
	Latency time.Duration
	// CostPerToken is the simulated cost charged per token.
	CostPerToken float64
	// FailFor maps node IDs to the number of leading attempts that should
	// fail with a retryable transport error. Supports retry-path tests.
	FailFor map[string]int
}

// NewSimRunner creates a simulated runner with no latency and a nominal
// per-token cost.
func NewSimRunner() *SimRunner {
	return &SimRunner{CostPerToken: 0.000003}
}

// Execute implements Runner.
func (s *SimRunner) Execute(ctx context.Context, payload Payload, budget models.ResourceBudget) (Result, error) {
	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return Result{}, NewError(CodeTimeout, true, ctx.Err())
		case <-time.After(s.Latency):
		}
	}

	if s.FailFor[payload.NodeID] >= payload.Attempt {
		return Result{}, NewError(CodeTransport, true,
			fmt.Errorf("simulated transport failure for node %s attempt %d", payload.NodeID, payload.Attempt))
	}

	// Synthetic deliverable: echoes the prompt so reference checks against
	// the original inputs pass.
	var b strings.Builder
	fmt.Fprintf(&b, "[%s", payload.Role)
	if payload.Capability != "" {
		fmt.Fprintf(&b, "/%s", payload.Capability)
	}
	fmt.Fprintf(&b, "] completed: %s", payload.Prompt)
	output := b.String()

	// Token accounting scales with prompt size, capped at the budget.
	tokens := int64(len(payload.Prompt)/4 + len(output)/4)
	if tokens < 1 {
		tokens = 1
	}
	if budget.MaxTokens > 0 && tokens > budget.MaxTokens {
		tokens = budget.MaxTokens
	}

	return Result{
		Output:     output,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) * s.CostPerToken,
	}, nil
}
