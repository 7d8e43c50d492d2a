package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Descriptor errors
	ErrInvalidWorkflow = errors.New("invalid workflow")
	ErrNoTrigger       = errors.New("workflow declares no trigger")
	ErrNoJobs          = errors.New("workflow declares no jobs")
	ErrFloatingVersion = errors.New("toolchain version must be pinned to an exact release")

	// Expression errors
	ErrExpression = errors.New("invalid expression")

	// Execution errors
	ErrStepFailed       = errors.New("step failed")
	ErrStepTimeout      = errors.New("step timed out")
	ErrJobTimeout       = errors.New("job timed out")
	ErrNoMatchingRunner = errors.New("no runner matches runs-on")
	ErrUnknownAction    = errors.New("unknown action")
	ErrInvalidInput     = errors.New("invalid action input")
)

// StepError reports which step ended a job and in which state.
type StepError struct {
	Step  string
	State StepState
	Err   error
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("step %q %s: %v", e.Step, strings.ToLower(string(e.State)), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ValidationError aggregates every problem found in a descriptor.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidWorkflow, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{ErrInvalidWorkflow}, e.Problems...)
}
