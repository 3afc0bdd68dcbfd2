package agent

import (
	"errors"
	"fmt"

	"github.com/kiko-hq/kiko/internal/model"
)

// ErrStepBudgetExceeded is wrapped by a StageError when a stage used all of
// its model round trips without producing a final output.
var ErrStepBudgetExceeded = errors.New("agent: step budget exceeded")

// FailureKind classifies a StageError.
type FailureKind string

const (
	ModelFailure       FailureKind = "model_failure"
	SchemaViolation    FailureKind = "schema_violation"
	StepBudgetExceeded FailureKind = "step_budget_exceeded"
)

// StageError reports a failed stage. It is never retried by the runner.
type StageError struct {
	Stage model.StageKind
	Kind  FailureKind
	Steps int // Model round trips completed before the failure.
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("agent: %s stage: %s after %d steps: %v", e.Stage, e.Kind, e.Steps, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailureKindOf returns the kind of the StageError in err's chain, or "".
func FailureKindOf(err error) FailureKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
