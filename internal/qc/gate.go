// Package qc validates produced results before they are accepted, issuing
// approve/reject verdicts with a retry policy.
package qc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rgoodall/quartermaster/pkg/models"
)

// DefaultMaxAttempts is the attempt ceiling before a rejection becomes final.
const DefaultMaxAttempts = 3

// Issue codes. Codes in nonRetryableCodes describe defects in the task
// itself; retrying the same work cannot fix them.
const (
	CodeMalformedOutput  = "QC_MALFORMED_OUTPUT"
	CodeMissingReference = "QC_MISSING_REFERENCE"
	CodeSizeExceeded     = "QC_SIZE_EXCEEDED"
	CodeEmptyResult      = "QC_EMPTY_RESULT"
	CodeBadSubmission    = "QC_BAD_SUBMISSION"
)

var nonRetryableCodes = map[string]bool{
	CodeBadSubmission: true,
}

// OutputType declares the structural shape a result must satisfy.
type OutputType string

const (
	OutputText     OutputType = "text"
	OutputJSON     OutputType = "json"
	OutputMarkdown OutputType = "markdown"
)

// Issue is one violated rule. A rejection carries every violated rule, not
// just the first.
type Issue struct {
	// Code classifies the violation.
	Code string `json:"code"`
	// Rule names the check that failed.
	Rule string `json:"rule"`
	// Detail is a human-readable description of the specific failure.
	Detail string `json:"detail"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Code, i.Rule, i.Detail)
}

// Verdict is the outcome of one submission. Approved is terminal and
// immutable; a rejected node may only be resubmitted as a new attempt.
type Verdict struct {
	// Approved reports whether the result passed every check.
	Approved bool `json:"approved"`
	// Issues lists every violated rule, in check order.
	Issues []Issue `json:"issues,omitempty"`
	// RetryAllowed is false when the attempt counter reached the maximum or
	// an issue is non-retryable.
	RetryAllowed bool `json:"retry_allowed"`
}

// Reasons renders the issue list for reason chains.
func (v Verdict) Reasons() string {
	if len(v.Issues) == 0 {
		return ""
	}
	parts := make([]string, len(v.Issues))
	for i, issue := range v.Issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "; ")
}

// Submission is one node result presented for validation.
type Submission struct {
	// NodeID identifies the subtask node under review.
	NodeID string
	// Attempt is the 1-based attempt counter for the node.
	Attempt int
	// Result is the produced output.
	Result string
	// OutputType declares the structural shape Result must satisfy.
	// Defaults to text.
	OutputType OutputType
	// RequiredInputs lists identifiers the result must reference.
	RequiredInputs []string
	// MaxResultBytes caps the result size. Zero means unlimited.
	MaxResultBytes int
}

// Check is one validation rule. Checks are independent: each inspects the
// submission on its own and reports its violations.
type Check func(Submission) []Issue

// Gate runs a fixed, ordered battery of checks over submissions.
type Gate struct {
	maxAttempts int
	checks      []Check
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxAttempts overrides the attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithExtraChecks appends checks after the built-in battery.
func WithExtraChecks(checks ...Check) Option {
	return func(g *Gate) { g.checks = append(g.checks, checks...) }
}

// New creates a gate with the built-in check battery: well-formedness for
// the declared output type, required-input references, and size limits.
func New(opts ...Option) *Gate {
	g := &Gate{
		maxAttempts: DefaultMaxAttempts,
		checks:      []Check{checkWellFormed, checkReferences, checkSize},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAttempts returns the configured attempt ceiling.
func (g *Gate) MaxAttempts() int {
	return g.maxAttempts
}

// Review validates a submission and returns the verdict. All checks run;
// the verdict collects every violation rather than stopping at the first.
func (g *Gate) Review(sub Submission) Verdict {
	var issues []Issue
	if sub.Attempt < 1 {
		issues = append(issues, Issue{
			Code:   CodeBadSubmission,
			Rule:   "attempt-counter",
			Detail: fmt.Sprintf("attempt %d is not a valid attempt number", sub.Attempt),
		})
	}
	for _, check := range g.checks {
		issues = append(issues, check(sub)...)
	}

	if len(issues) == 0 {
		return Verdict{Approved: true}
	}

	retry := sub.Attempt < g.maxAttempts
	for _, issue := range issues {
		if nonRetryableCodes[issue.Code] {
			retry = false
			break
		}
	}
	return Verdict{Approved: false, Issues: issues, RetryAllowed: retry}
}

// checkWellFormed verifies the result parses as its declared output type.
func checkWellFormed(sub Submission) []Issue {
	if strings.TrimSpace(sub.Result) == "" {
		return []Issue{{
			Code:   CodeEmptyResult,
			Rule:   "well-formed",
			Detail: "result is empty",
		}}
	}

	switch sub.OutputType {
	case OutputJSON:
		if !json.Valid([]byte(sub.Result)) {
			return []Issue{{
				Code:   CodeMalformedOutput,
				Rule:   "well-formed",
				Detail: "result is not valid JSON",
			}}
		}
	case OutputMarkdown, OutputText, "":
		// Non-empty is all the structural contract these carry.
	default:
		return []Issue{{
			Code:   CodeBadSubmission,
			Rule:   "well-formed",
			Detail: fmt.Sprintf("unknown output type %q", sub.OutputType),
		}}
	}
	return nil
}

// checkReferences verifies the result mentions every required input.
func checkReferences(sub Submission) []Issue {
	var issues []Issue
	result := strings.ToLower(sub.Result)
	for _, input := range sub.RequiredInputs {
		if input == "" {
			continue
		}
		if !strings.Contains(result, strings.ToLower(input)) {
			issues = append(issues, Issue{
				Code:   CodeMissingReference,
				Rule:   "references-inputs",
				Detail: fmt.Sprintf("result does not reference required input %q", input),
			})
		}
	}
	return issues
}

// checkSize verifies the result fits its declared size limit.
func checkSize(sub Submission) []Issue {
	if sub.MaxResultBytes > 0 && len(sub.Result) > sub.MaxResultBytes {
		return []Issue{{
			Code:   CodeSizeExceeded,
			Rule:   "size-limit",
			Detail: fmt.Sprintf("result is %d bytes, limit %d", len(sub.Result), sub.MaxResultBytes),
		}}
	}
	return nil
}

// RetryPolicy adjusts a role assignment for the next attempt after a
// retryable rejection. The adjustment strategy is a configurable hook.
type RetryPolicy func(prev models.RoleAssignment, verdict Verdict) models.RoleAssignment

// DefaultRetryPolicy narrows the next attempt: the token ceiling drops by a
// quarter to force reduced scope, and a rejected specialist hands off to a
// generalist.
func DefaultRetryPolicy(prev models.RoleAssignment, _ Verdict) models.RoleAssignment {
	next := prev
	next.Budget = prev.Budget.Scale(0.75)
	if prev.Role == models.RoleSpecialist {
		next.Role = models.RoleGeneralist
		next.Capability = ""
	}
	return next
}
