package orchestrator

import "fmt"

// Error codes surfaced on engine errors.
const (
	CodeStructural  = "STRUCTURAL_ERROR"
	CodeQCRejection = "QC_REJECTION"
	CodeCancelled   = "RUN_CANCELLED"
)

// StructuralError marks a task that is malformed before any execution:
// duplicate or missing ids, unknown dependency references, or a dependency
// cycle. Structural errors are fatal and never retried.
type StructuralError struct {
	// TaskID names the offending task when one can be identified.
	TaskID string
	// Detail describes the defect.
	Detail string
}

func (e *StructuralError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("structural error: %s", e.Detail)
	}
	return fmt.Sprintf("structural error in task %s: %s", e.TaskID, e.Detail)
}

// Code returns the machine-readable error code.
func (e *StructuralError) Code() string { return CodeStructural }

func structuralErr(taskID, format string, args ...interface{}) *StructuralError {
	return &StructuralError{TaskID: taskID, Detail: fmt.Sprintf(format, args...)}
}
