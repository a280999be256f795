package qc

import (
	"strings"
	"testing"

	"github.com/rgoodall/quartermaster/pkg/models"
)

func TestApprovedCleanSubmission(t *testing.T) {
	g := New()
	v := g.Review(Submission{
		NodeID:         "n1",
		Attempt:        1,
		Result:         `{"summary": "reviewed input-a and input-b"}`,
		OutputType:     OutputJSON,
		RequiredInputs: []string{"input-a", "input-b"},
		MaxResultBytes: 1024,
	})
	if !v.Approved {
		t.Fatalf("Review() rejected clean submission: %v", v.Reasons())
	}
	if len(v.Issues) != 0 {
		t.Errorf("approved verdict carries issues: %v", v.Issues)
	}
}

func TestAllViolationsCollected(t *testing.T) {
	g := New()
	// Invalid JSON, missing one reference, and oversized: all three rules
	// should appear in the verdict.
	v := g.Review(Submission{
		NodeID:         "n1",
		Attempt:        1,
		Result:         "not json " + strings.Repeat("x", 100),
		OutputType:     OutputJSON,
		RequiredInputs: []string{"missing-input"},
		MaxResultBytes: 50,
	})
	if v.Approved {
		t.Fatal("Review() approved a violating submission")
	}

	codes := make(map[string]bool)
	for _, issue := range v.Issues {
		codes[issue.Code] = true
	}
	for _, want := range []string{CodeMalformedOutput, CodeMissingReference, CodeSizeExceeded} {
		if !codes[want] {
			t.Errorf("verdict missing issue %s, got %v", want, v.Issues)
		}
	}
	if !v.RetryAllowed {
		t.Error("first-attempt structural failures should be retryable")
	}
}

func TestOutputTypeChecks(t *testing.T) {
	g := New()
	tests := []struct {
		name    string
		sub     Submission
		approve bool
	}{
		{"valid json", Submission{Attempt: 1, Result: `[1, 2, 3]`, OutputType: OutputJSON}, true},
		{"invalid json", Submission{Attempt: 1, Result: `{broken`, OutputType: OutputJSON}, false},
		{"plain text", Submission{Attempt: 1, Result: "fine", OutputType: OutputText}, true},
		{"default type is text", Submission{Attempt: 1, Result: "fine"}, true},
		{"markdown", Submission{Attempt: 1, Result: "# heading"}, true},
		{"empty result", Submission{Attempt: 1, Result: "   \n"}, false},
		{"unknown type", Submission{Attempt: 1, Result: "x", OutputType: "xml"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Review(tt.sub).Approved; got != tt.approve {
				t.Errorf("Review() approved = %v, want %v", got, tt.approve)
			}
		})
	}
}

func TestReferenceCheckIsCaseInsensitive(t *testing.T) {
	g := New()
	v := g.Review(Submission{
		Attempt:        1,
		Result:         "Analysis of the DESIGN-DOC follows",
		RequiredInputs: []string{"design-doc"},
	})
	if !v.Approved {
		t.Errorf("Review() rejected case-variant reference: %v", v.Reasons())
	}
}

func TestRetryDeniedAtMaxAttempts(t *testing.T) {
	g := New()
	sub := Submission{Attempt: DefaultMaxAttempts, Result: "", OutputType: OutputText}

	v := g.Review(sub)
	if v.Approved {
		t.Fatal("empty result approved")
	}
	if v.RetryAllowed {
		t.Errorf("attempt %d of %d must not be retryable", sub.Attempt, DefaultMaxAttempts)
	}

	// One attempt earlier, the same failure is still retryable.
	sub.Attempt = DefaultMaxAttempts - 1
	if v := g.Review(sub); !v.RetryAllowed {
		t.Error("attempt below the ceiling should allow retry")
	}
}

func TestNonRetryableClassDeniesRetryImmediately(t *testing.T) {
	g := New()
	v := g.Review(Submission{Attempt: 1, Result: "x", OutputType: "bogus"})
	if v.Approved {
		t.Fatal("unknown output type approved")
	}
	if v.RetryAllowed {
		t.Error("defective submissions are not fixed by retrying")
	}
}

func TestConfiguredMaxAttempts(t *testing.T) {
	g := New(WithMaxAttempts(1))
	v := g.Review(Submission{Attempt: 1, Result: ""})
	if v.RetryAllowed {
		t.Error("single-attempt gate allowed a retry")
	}
}

func TestExtraChecksRun(t *testing.T) {
	banned := func(sub Submission) []Issue {
		if strings.Contains(sub.Result, "TODO") {
			return []Issue{{Code: "QC_UNFINISHED", Rule: "no-todo", Detail: "result contains TODO"}}
		}
		return nil
	}
	g := New(WithExtraChecks(banned))

	if v := g.Review(Submission{Attempt: 1, Result: "TODO: finish"}); v.Approved {
		t.Error("extra check did not run")
	}
	if v := g.Review(Submission{Attempt: 1, Result: "complete"}); !v.Approved {
		t.Errorf("extra check rejected clean result: %v", v.Reasons())
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	prev := models.RoleAssignment{
		Role:       models.RoleSpecialist,
		Capability: "sql",
		Budget:     models.ResourceBudget{MaxTokens: 1000, MaxCalls: 4},
	}
	next := DefaultRetryPolicy(prev, Verdict{})

	if next.Budget.MaxTokens != 750 {
		t.Errorf("retry tokens = %d, want 750", next.Budget.MaxTokens)
	}
	if next.Role != models.RoleGeneralist || next.Capability != "" {
		t.Errorf("retry role = %v/%q, want generalist handoff", next.Role, next.Capability)
	}

	// Non-specialists keep their role.
	prev.Role = models.RoleValidator
	prev.Capability = ""
	if got := DefaultRetryPolicy(prev, Verdict{}); got.Role != models.RoleValidator {
		t.Errorf("validator retry role = %v, want validator", got.Role)
	}
}
